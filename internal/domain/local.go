// Package domain – locally persisted models.
//
// These types are mapped with GORM into the agent's local SQLite database.
// They cover the legacy-fallback configuration (the static identifiers an
// agent uses when the mapping store has no row), its timestamped backups,
// and the durable diagnostics sink.
package domain

import "time"

// AgentProperties is the persisted legacy configuration for one sync-agent
// family. It is read by the credential resolver as the fallback of last
// resort and rewritten by the reconciliation job after each run.
//
// BackendKeyRef names where the backend secret lives (an env var or secret
// slot), never the secret itself.
type AgentProperties struct {
	ID            uint      `json:"-"              gorm:"primaryKey"`
	System        string    `json:"system"         gorm:"type:varchar(64);not null;uniqueIndex:ux_agent_properties_system"`
	ClinicID      string    `json:"clinic_id"      gorm:"type:varchar(64)"`
	ProviderID    string    `json:"provider_id"    gorm:"type:varchar(64)"`
	LocationID    string    `json:"location_id"    gorm:"type:varchar(64)"`
	BackendURL    string    `json:"backend_url"    gorm:"type:varchar(255)"`
	BackendKeyRef string    `json:"backend_key_ref" gorm:"type:varchar(128)"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for AgentProperties.
func (AgentProperties) TableName() string { return "agent_properties" }

// PropertyBackup is a point-in-time copy of AgentProperties taken by the
// reconciliation job before it overwrites the baseline. Backups are
// namespaced by TakenAt and never deleted.
type PropertyBackup struct {
	ID            uint      `json:"-"              gorm:"primaryKey"`
	System        string    `json:"system"         gorm:"type:varchar(64);not null;index:idx_property_backups_system,priority:1"`
	TakenAt       time.Time `json:"taken_at"       gorm:"not null;index:idx_property_backups_system,priority:2"`
	ClinicID      string    `json:"clinic_id"      gorm:"type:varchar(64)"`
	ProviderID    string    `json:"provider_id"    gorm:"type:varchar(64)"`
	LocationID    string    `json:"location_id"    gorm:"type:varchar(64)"`
	BackendURL    string    `json:"backend_url"    gorm:"type:varchar(255)"`
	BackendKeyRef string    `json:"backend_key_ref" gorm:"type:varchar(128)"`
}

// TableName returns the database table name for PropertyBackup.
func (PropertyBackup) TableName() string { return "property_backups" }

// DiagnosticEntry is a closed correlation record persisted for the external
// analysis tool. Persistence is best-effort: the in-memory ring in the diag
// package is the primary query surface and this table may lag or drop rows.
type DiagnosticEntry struct {
	ID            uint      `json:"-"             gorm:"primaryKey"`
	CorrelationID string    `json:"correlation_id" gorm:"type:char(36);not null;index"`
	Operation     string    `json:"operation"     gorm:"type:varchar(64);not null;index"`
	Outcome       string    `json:"outcome"       gorm:"type:varchar(64);not null"`
	StartedAt     time.Time `json:"started_at"    gorm:"not null;index"`
	DurationMs    int64     `json:"duration_ms"   gorm:"not null"`
	Metadata      string    `json:"metadata"      gorm:"type:text"` // JSON-encoded scalar map
}

// TableName returns the database table name for DiagnosticEntry.
func (DiagnosticEntry) TableName() string { return "diagnostic_entries" }

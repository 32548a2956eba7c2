// Package detect implements the entity auto-detector: matching a free-text
// spreadsheet title against an ordered registry of known providers and
// locations to work out which business entity an automation instance
// represents.
//
// Matching is deterministic and first-match-wins by registry order, not by
// pattern specificity. Registry authors are responsible for ordering more
// specific patterns first: a short nickname that is a substring of a longer
// name must be ordered after the full-name entry, or excluded. This
// ordering dependency is a documented part of the contract and covered by
// tests.
package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kamdental/dental-sync/internal/domain"
)

// Entry describes one known entity and the title patterns that identify it.
type Entry struct {
	// Code is the stable external identifier of the entity itself.
	Code string `json:"code"`
	// DisplayName is the operator-facing name.
	DisplayName string `json:"displayName"`
	// EntityType is what the entry's Code refers to (provider or location).
	EntityType domain.EntityType `json:"entityType"`
	// Patterns are regular expressions matched against the folded title,
	// in order. Case-insensitivity is applied by the registry.
	Patterns []string `json:"patterns"`
	// Clinic is the external identifier of the clinic this entity belongs
	// to, carried into the detection result for the resolver.
	Clinic string `json:"clinic,omitempty"`
	// Location is an optional associated location code.
	Location string `json:"location,omitempty"`

	compiled []*regexp.Regexp
}

// Registry is an ordered list of entries. Order is load-bearing: Detect
// stops at the first entry with a matching pattern.
type Registry struct {
	entries []Entry
}

// NewRegistry compiles the given entries, preserving order. Patterns are
// compiled case-insensitively; a malformed pattern fails construction.
func NewRegistry(entries []Entry) (*Registry, error) {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Code == "" {
			return nil, fmt.Errorf("registry entry %d: empty code", i)
		}
		if len(e.Patterns) == 0 {
			return nil, fmt.Errorf("registry entry %q: no patterns", e.Code)
		}
		e.compiled = make([]*regexp.Regexp, len(e.Patterns))
		for j, p := range e.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("registry entry %q pattern %q: %w", e.Code, p, err)
			}
			e.compiled[j] = re
		}
		out[i] = e
	}
	return &Registry{entries: out}, nil
}

// LoadRegistry reads a JSON array of entries from path and compiles it.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return NewRegistry(entries)
}

// Default returns the compiled seed registry for the known production
// agents. Full names are ordered before short nicknames on purpose.
func Default() *Registry {
	r, err := NewRegistry([]Entry{
		{
			Code: "adriane_fontenot", DisplayName: "Adriane Fontenot",
			EntityType: domain.EntityProvider,
			Patterns:   []string{`adriane\s+fontenot`, `adriane`},
			Clinic:     "KAMDENTAL_BAYTOWN",
		},
		{
			Code: "kia_redfearn", DisplayName: "Kia Redfearn",
			EntityType: domain.EntityProvider,
			Patterns:   []string{`kia\s+redfearn`, `kia`},
			Clinic:     "KAMDENTAL_HUMBLE",
		},
		{
			Code: "obinna_ezeji", DisplayName: "Dr. Obinna Ezeji",
			EntityType: domain.EntityProvider,
			Patterns:   []string{`obinna\s+ezeji`, `obinna`, `dr\.?\s*ezeji`},
			Clinic:     "KAMDENTAL_BAYTOWN",
		},
		{
			Code: "chinyere_enih", DisplayName: "Dr. Chinyere Enih",
			EntityType: domain.EntityProvider,
			Patterns:   []string{`chinyere\s+enih`, `chinyere`, `dr\.?\s*enih`},
			Clinic:     "KAMDENTAL_HUMBLE",
		},
		{
			Code: "BAYTOWN_MAIN", DisplayName: "Baytown",
			EntityType: domain.EntityLocation,
			Patterns:   []string{`baytown`},
			Clinic:     "KAMDENTAL_BAYTOWN",
		},
		{
			Code: "HUMBLE_MAIN", DisplayName: "Humble",
			EntityType: domain.EntityLocation,
			Patterns:   []string{`humble`},
			Clinic:     "KAMDENTAL_HUMBLE",
		},
	})
	if err != nil {
		panic(err) // seed registry is static; a bad pattern is a programming error
	}
	return r
}

// foldTitle normalizes a raw title for matching: Unicode NFKC
// normalization, case folding, and whitespace collapsing.
func foldTitle(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Detect matches rawTitle against the registry. The first entry with a
// matching pattern wins; within an entry, patterns are tried in order.
// A result with ConfidenceNone means no detection and callers must not
// proceed to resolution with it.
func (r *Registry) Detect(rawTitle string) domain.DetectionResult {
	title := foldTitle(rawTitle)
	if title == "" {
		return domain.DetectionResult{Confidence: domain.ConfidenceNone}
	}

	for _, e := range r.entries {
		for j, re := range e.compiled {
			m := re.FindString(title)
			if m == "" {
				continue
			}
			codes := map[domain.EntityType]string{e.EntityType: e.Code}
			if e.Clinic != "" {
				codes[domain.EntityClinic] = e.Clinic
			}
			if e.Location != "" {
				codes[domain.EntityLocation] = e.Location
			}
			return domain.DetectionResult{
				EntityCode:     e.Code,
				DisplayName:    e.DisplayName,
				Confidence:     grade(m, j),
				MatchedPattern: e.Patterns[j],
				Codes:          codes,
			}
		}
	}
	return domain.DetectionResult{Confidence: domain.ConfidenceNone}
}

// ByCode returns the entry with the given entity code, for callers that
// already know their identity and only need the associated codes.
func (r *Registry) ByCode(code string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Code == code {
			return e, true
		}
	}
	return Entry{}, false
}

// Len reports the number of registry entries.
func (r *Registry) Len() int { return len(r.entries) }

// grade derives a confidence level from the matched text and the pattern's
// position within its entry. The first pattern of an entry is its most
// specific one, so matching it outranks matching a later nickname.
func grade(matched string, patternIdx int) domain.Confidence {
	switch {
	case patternIdx == 0 && len(matched) >= 8:
		return domain.ConfidenceHigh
	case len(matched) >= 4:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

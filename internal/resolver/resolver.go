// Package resolver orchestrates credential resolution: turning a sync
// agent's identity (a known entity code, or a raw spreadsheet title fed to
// the auto-detector) into a complete, ready-to-use credential bundle of
// internal database keys plus backend connection settings.
//
// Resolution order per required key: cache, then mapping store, then the
// legacy fallback persisted in the local properties store. A bundle is
// assembled only when every key the system's declared shape requires has
// resolved; otherwise resolution fails atomically with the full list of
// unresolved keys.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kamdental/dental-sync/internal/backend"
	"github.com/kamdental/dental-sync/internal/cache"
	"github.com/kamdental/dental-sync/internal/detect"
	"github.com/kamdental/dental-sync/internal/diag"
	"github.com/kamdental/dental-sync/internal/domain"
	"github.com/kamdental/dental-sync/internal/mapping"
	"github.com/kamdental/dental-sync/internal/sysutil"
)

// MappingStore is the subset of the mapping client the resolver needs.
type MappingStore interface {
	// Lookup resolves one composite key to the current internal entity id.
	Lookup(ctx context.Context, key domain.MappingKey) (string, error)

	// VerifyEntity checks the referenced entity still exists.
	VerifyEntity(ctx context.Context, entityType domain.EntityType, entityID string) error
}

// PropertiesReader loads the persisted legacy configuration for a system.
// A nil result (with nil error) means no legacy baseline exists.
type PropertiesReader interface {
	Properties(ctx context.Context, system string) (*domain.AgentProperties, error)
}

// Shape declares which entities a sync-agent family requires. Clinic is
// always required; provider and location are per-system. The resolver
// validates completeness against this declaration instead of inferring it
// from whichever keys happen to be present.
type Shape struct {
	Provider bool
	Location bool
}

// Required lists the entity types this shape demands, in resolution order.
func (s Shape) Required() []domain.EntityType {
	req := []domain.EntityType{domain.EntityClinic}
	if s.Provider {
		req = append(req, domain.EntityProvider)
	}
	if s.Location {
		req = append(req, domain.EntityLocation)
	}
	return req
}

// Request describes one resolution attempt. Identity comes from
// EntityCode when the agent already knows who it is, or from RawTitle via
// auto-detection. Codes may pre-seed or override individual external
// identifiers per entity type.
type Request struct {
	System     string
	EntityCode string
	RawTitle   string
	Codes      map[domain.EntityType]string

	// SkipCache forces fresh store lookups (used by the reconciliation
	// job). Fresh results are still written back to the cache.
	SkipCache bool
}

// Resolver produces credential bundles. All fields must be set before use;
// construct via New.
type Resolver struct {
	shapes   map[string]Shape
	registry *detect.Registry
	cache    *cache.Cache
	store    MappingStore
	props    PropertiesReader
	rec      *diag.Recorder

	backendURL string
	backendKey string

	// now is a test seam for bundle timestamps.
	now func() time.Time
}

// New constructs a Resolver. backendURL/backendKey are the connection
// settings stamped onto every bundle; when backendURL is empty the legacy
// properties' URL is used instead.
func New(shapes map[string]Shape, registry *detect.Registry, c *cache.Cache, store MappingStore, props PropertiesReader, rec *diag.Recorder, backendURL, backendKey string) *Resolver {
	return &Resolver{
		shapes:     shapes,
		registry:   registry,
		cache:      c,
		store:      store,
		props:      props,
		rec:        rec,
		backendURL: backendURL,
		backendKey: backendKey,
		now:        time.Now,
	}
}

// subResult tracks where one required key's id came from.
type subResult struct {
	id     string
	source domain.Source
}

// Resolve executes the resolution algorithm for one agent invocation.
// On failure the returned error is a *ResolutionError (or one of the
// misconfiguration sentinels); the zero bundle must be ignored.
func (r *Resolver) Resolve(ctx context.Context, req Request) (domain.ResolvedCredentialBundle, error) {
	ctx, op := r.rec.Begin(ctx, "resolve", diag.Metadata{
		"system":            req.System,
		"skip_cache":        req.SkipCache,
		"backend_key_class": sysutil.LengthClass(r.backendKey),
	})

	bundle, err := r.resolve(ctx, op, req)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			re.CorrelationID = op.CorrelationID()
			op.Complete(string(re.Kind))
		} else {
			op.Complete("error")
		}
		return domain.ResolvedCredentialBundle{}, err
	}

	op.Meta("source", string(bundle.Source))
	op.Complete("success")
	return bundle, nil
}

func (r *Resolver) resolve(ctx context.Context, op *diag.Operation, req Request) (domain.ResolvedCredentialBundle, error) {
	shape, ok := r.shapes[req.System]
	if !ok {
		return domain.ResolvedCredentialBundle{}, ErrUnknownSystem
	}
	required := shape.Required()

	codes, err := r.identityCodes(ctx, req, required)
	if err != nil {
		return domain.ResolvedCredentialBundle{}, err
	}

	var (
		results    = make(map[domain.EntityType]subResult, len(required))
		unresolved []KeyRef
		anyStale   bool
	)
	for _, et := range required {
		res, keyRef, err := r.resolveOne(ctx, op, req, et, codes[et])
		if err != nil {
			return domain.ResolvedCredentialBundle{}, err
		}
		if keyRef != nil {
			unresolved = append(unresolved, *keyRef)
			anyStale = anyStale || keyRef.Stale
			continue
		}
		results[et] = res
	}

	// Atomicity: all required keys or nothing.
	if len(unresolved) > 0 {
		kind := KindUnresolvedIdentifier
		if anyStale {
			kind = KindStaleMappingReference
			log.Error().
				Str("system", req.System).
				Str("correlation_id", op.CorrelationID()).
				Msg("stale mapping reference: mapping store drift requires operator attention")
		}
		return domain.ResolvedCredentialBundle{}, &ResolutionError{
			Kind:       kind,
			System:     req.System,
			Unresolved: unresolved,
		}
	}

	return r.assemble(ctx, req.System, required, results)
}

// identityCodes produces the external identifier per required entity type,
// from explicit request codes, the registry (for a known entity code), or
// auto-detection on the raw title.
func (r *Resolver) identityCodes(ctx context.Context, req Request, required []domain.EntityType) (map[domain.EntityType]string, error) {
	codes := make(map[domain.EntityType]string, len(required))
	for et, c := range req.Codes {
		codes[et] = c
	}

	complete := func() bool {
		for _, et := range required {
			if codes[et] == "" {
				return false
			}
		}
		return true
	}
	if complete() {
		return codes, nil
	}

	merge := func(more map[domain.EntityType]string) {
		for et, c := range more {
			if codes[et] == "" {
				codes[et] = c
			}
		}
	}

	if req.EntityCode != "" {
		if e, ok := r.registry.ByCode(req.EntityCode); ok {
			m := map[domain.EntityType]string{e.EntityType: e.Code}
			if e.Clinic != "" {
				m[domain.EntityClinic] = e.Clinic
			}
			if e.Location != "" {
				m[domain.EntityLocation] = e.Location
			}
			merge(m)
		}
		if complete() {
			return codes, nil
		}
	}

	if req.RawTitle != "" {
		_, det := r.rec.Begin(ctx, "detect", diag.Metadata{"system": req.System})
		result := r.registry.Detect(req.RawTitle)
		if !result.Detected() {
			det.Complete(string(KindUndetectedEntity))
			return nil, &ResolutionError{
				Kind:     KindUndetectedEntity,
				System:   req.System,
				RawTitle: req.RawTitle,
			}
		}
		det.Meta("entity_code", result.EntityCode)
		det.Meta("confidence", string(result.Confidence))
		det.Complete("success")
		merge(result.Codes)
	}

	// Missing codes are handled per-key: the legacy fallback may still
	// supply an id even when no external identifier is known.
	return codes, nil
}

// resolveOne resolves a single required key. It returns either a result, a
// KeyRef describing why the key stayed unresolved, or a fatal error that
// aborts the whole resolution (ambiguity, transient backend failure).
func (r *Resolver) resolveOne(ctx context.Context, op *diag.Operation, req Request, et domain.EntityType, code string) (subResult, *KeyRef, error) {
	stale := false

	if code != "" {
		key := domain.MappingKey{System: req.System, ExternalID: code, EntityType: et}

		if !req.SkipCache {
			if id, res := r.cache.Get(key); res == cache.Hit {
				op.Meta("cache_"+string(et), "hit")
				return subResult{id: id, source: domain.SourceCache}, nil, nil
			} else if res == cache.NegativeHit {
				// Known unresolved: skip the store, go straight to fallback.
				op.Meta("cache_"+string(et), "negative_hit")
				return r.fallback(ctx, req.System, et, code, false)
			}
			op.Meta("cache_"+string(et), "miss")
		}

		id, err := r.store.Lookup(ctx, key)
		switch {
		case err == nil:
			if verr := r.store.VerifyEntity(ctx, et, id); verr != nil {
				if errors.Is(verr, mapping.ErrStaleReference) {
					stale = true
					break // fall through to legacy fallback
				}
				return subResult{}, nil, r.liftBackendErr(req.System, verr)
			}
			r.cache.Put(key, id)
			return subResult{id: id, source: domain.SourceMappingStore}, nil, nil

		case errors.Is(err, mapping.ErrNotFound):
			r.cache.PutNegative(key)

		case errors.Is(err, mapping.ErrAmbiguous):
			return subResult{}, nil, &ResolutionError{
				Kind:       KindAmbiguousMapping,
				System:     req.System,
				Unresolved: []KeyRef{{EntityType: et, Code: code}},
				Err:        err,
			}

		default:
			return subResult{}, nil, r.liftBackendErr(req.System, err)
		}
	}

	return r.fallback(ctx, req.System, et, code, stale)
}

// fallback consults the persisted legacy configuration for the entity id.
func (r *Resolver) fallback(ctx context.Context, system string, et domain.EntityType, code string, stale bool) (subResult, *KeyRef, error) {
	props, err := r.props.Properties(ctx, system)
	if err != nil {
		return subResult{}, nil, err
	}
	if props != nil {
		var id string
		switch et {
		case domain.EntityClinic:
			id = props.ClinicID
		case domain.EntityProvider:
			id = props.ProviderID
		case domain.EntityLocation:
			id = props.LocationID
		}
		if id != "" {
			return subResult{id: id, source: domain.SourceLegacyFallback}, nil, nil
		}
	}
	return subResult{}, &KeyRef{EntityType: et, Code: code, Stale: stale}, nil
}

// liftBackendErr wraps transport errors in the resolution taxonomy.
func (r *Resolver) liftBackendErr(system string, err error) error {
	if backend.IsTransient(err) {
		return &ResolutionError{Kind: KindTransientBackendFailure, System: system, Err: err}
	}
	return err
}

// assemble builds the final bundle and tags its source: cache when every
// sub-result was a cache hit, mapping-store when at least one came from the
// store, legacy-fallback otherwise.
func (r *Resolver) assemble(ctx context.Context, system string, required []domain.EntityType, results map[domain.EntityType]subResult) (domain.ResolvedCredentialBundle, error) {
	source := domain.SourceCache
	fellBack := false
	for _, res := range results {
		switch res.source {
		case domain.SourceMappingStore:
			source = domain.SourceMappingStore
		case domain.SourceLegacyFallback:
			fellBack = true
		}
	}
	if source != domain.SourceMappingStore && fellBack {
		source = domain.SourceLegacyFallback
	}

	url, key := r.backendURL, r.backendKey
	if url == "" {
		if props, err := r.props.Properties(ctx, system); err == nil && props != nil {
			url = props.BackendURL
		}
	}
	if url == "" || key == "" {
		return domain.ResolvedCredentialBundle{}, ErrNoBackendConfig
	}

	b := domain.ResolvedCredentialBundle{
		BackendURL: url,
		BackendKey: key,
		ResolvedAt: r.now().UTC(),
		Source:     source,
	}
	for _, et := range required {
		switch et {
		case domain.EntityClinic:
			b.ClinicID = results[et].id
		case domain.EntityProvider:
			b.ProviderID = results[et].id
		case domain.EntityLocation:
			b.LocationID = results[et].id
		}
	}
	return b, nil
}

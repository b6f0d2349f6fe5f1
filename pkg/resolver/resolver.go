package resolver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/staging"
)

// Resolver rewrites declared cross-collection references from source
// identifiers to target identifiers. It runs as a single global pass
// after every collection's create and update passes have completed, so
// lookups always see fully populated target collections.
type Resolver struct {
	imap        *staging.ImportMap
	dedupe      *staging.Deduper
	identityKey string
	logger      *zap.Logger
}

// Report summarizes a resolution pass
type Report struct {
	Rewritten  int // references rewritten via the identity merge table
	Resolved   int // references matched to a target record
	Skipped    int // references whose source value is absent
	Unresolved int // references with no matching target record
}

// refOutcome classifies one reference mapping's resolution
type refOutcome int

const (
	refResolved refOutcome = iota
	refSkipped
	refUnresolved
)

// NewResolver creates a resolver over a populated import map
func NewResolver(imap *staging.ImportMap, dedupe *staging.Deduper, identityCollection string, logger *zap.Logger) *Resolver {
	return &Resolver{
		imap:        imap,
		dedupe:      dedupe,
		identityKey: staging.NormalizeKey(identityCollection),
		logger:      logger,
	}
}

// ResolveAll runs the merge-aware rewrite followed by the general
// cross-collection lookup over every staged record. The rewrite must
// run first: the general lookup indexes records by their own keys, and
// identity records that merged away no longer exist as staged records.
func (r *Resolver) ResolveAll() Report {
	report := Report{}
	report.Rewritten = r.rewriteMergedReferences()
	r.resolveReferences(&report)

	r.logger.Info("Reference resolution completed",
		zap.Int("rewritten", report.Rewritten),
		zap.Int("resolved", report.Resolved),
		zap.Int("skipped", report.Skipped),
		zap.Int("unresolved", report.Unresolved))

	return report
}

// rewriteMergedReferences replaces source identifiers pointing at the
// identity collection with the canonical identity id from the merge
// table, so merged-away records still resolve.
func (r *Resolver) rewriteMergedReferences() int {
	rewritten := 0

	for _, key := range r.imap.StageKeys() {
		for _, rec := range r.imap.Records(key) {
			if rec.Def == nil {
				continue
			}
			for _, ref := range rec.Def.References {
				if staging.NormalizeKey(ref.TargetCollection) != r.identityKey {
					continue
				}

				value, ok := rec.Context[ref.SourceField]
				if !ok || value == nil {
					continue
				}

				switch v := value.(type) {
				case []interface{}:
					changed := false
					out := make([]interface{}, len(v))
					for i, item := range v {
						if canonical, ok := r.dedupe.CanonicalFor(fmt.Sprintf("%v", item)); ok {
							out[i] = canonical
							changed = true
						} else {
							out[i] = item
						}
					}
					if changed {
						rec.Context[ref.SourceField] = out
						rewritten++
					}
				default:
					if canonical, ok := r.dedupe.CanonicalFor(fmt.Sprintf("%v", v)); ok {
						rec.Context[ref.SourceField] = canonical
						rewritten++
					}
				}
			}
		}
	}

	return rewritten
}

// resolveReferences runs the general cross-collection lookup for every
// declared reference mapping.
func (r *Resolver) resolveReferences(report *Report) {
	for _, key := range r.imap.StageKeys() {
		for _, rec := range r.imap.Records(key) {
			if rec.Def == nil {
				continue
			}
			for _, ref := range rec.Def.References {
				switch r.resolveOne(key, rec, ref) {
				case refResolved:
					report.Resolved++
				case refSkipped:
					report.Skipped++
				case refUnresolved:
					report.Unresolved++
				}
			}
		}
	}
}

func (r *Resolver) resolveOne(collection string, rec *staging.ImportRecord, ref model.ReferenceMapping) refOutcome {
	value, ok := rec.Context[ref.SourceField]
	if !ok || value == nil {
		// Nothing to resolve; not an error
		return refSkipped
	}

	wanted := valueSet(value)
	targets := r.imap.Records(ref.TargetCollection)
	if targets == nil {
		r.logger.Error("Reference targets unconfigured collection",
			zap.String("collection", collection),
			zap.String("targetCollection", ref.TargetCollection),
			zap.String("sourceField", ref.SourceField))
		return refUnresolved
	}

	matches := make([]interface{}, 0, 1)
	for _, target := range targets {
		// A record with no assigned document id is not yet created and
		// must not be referenced.
		if target.DocID() == "" {
			continue
		}
		// Match on the declared target field, or on the document id
		// itself: rewritten identity references already carry target ids.
		if _, ok := wanted[target.Context.GetString(ref.TargetField)]; ok {
			matches = append(matches, target.Final.Clone())
		} else if _, ok := wanted[target.DocID()]; ok {
			matches = append(matches, target.Final.Clone())
		}
	}

	if len(matches) == 0 {
		r.logger.Error("Unresolvable reference; field left unset",
			zap.String("collection", collection),
			zap.String("sourceField", ref.SourceField),
			zap.String("targetCollection", ref.TargetCollection),
			zap.String("targetField", ref.TargetField),
			zap.Any("value", value))
		return refUnresolved
	}

	if ref.Array {
		rec.Final[ref.SetField] = matches
	} else {
		rec.Final[ref.SetField] = matches[0]
	}
	return refResolved
}

// valueSet renders a reference value into the set of strings to match
// against. Arrays contribute every element.
func valueSet(value interface{}) map[string]struct{} {
	out := make(map[string]struct{})
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			out[fmt.Sprintf("%v", item)] = struct{}{}
		}
	default:
		out[fmt.Sprintf("%v", v)] = struct{}{}
	}
	return out
}

package staging

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// identityOnlyFields live on the identity entity, not on the domain
// record that carried them, and are stripped before staging.
var identityOnlyFields = []string{"email", "phone", "name", "labels", "prefs"}

// Deduper collapses multiple source identity records that refer to the
// same real-world entity into one target identity, keyed by email and
// phone. Every source identifier folded into an identity is preserved
// in the merge table so later passes can map any of them back to the
// single target identifier.
//
// Records are processed in source order; the result is a pure function
// of that order. Two records sharing only a phone whose common email
// appears on a later third record are not merged retroactively.
type Deduper struct {
	mu        sync.Mutex
	email     map[string]string   // email -> target id
	phone     map[string]string   // phone -> target id
	buckets   map[string][]string // canonical target id -> source ids
	canonical map[string]string   // source id -> canonical target id
	logger    *zap.Logger
}

// NewDeduper creates an empty deduplication engine
func NewDeduper(logger *zap.Logger) *Deduper {
	return &Deduper{
		email:     make(map[string]string),
		phone:     make(map[string]string),
		buckets:   make(map[string][]string),
		canonical: make(map[string]string),
		logger:    logger,
	}
}

// Seed registers an identity that already exists in the target store so
// incoming records merge into it instead of creating a duplicate. Keys
// get the same normalization incoming records get, so a stored
// mixed-case email still matches.
func (d *Deduper) Seed(targetID, email, phone string) {
	email = strings.TrimSpace(strings.ToLower(email))
	phone = strings.TrimSpace(phone)

	d.mu.Lock()
	defer d.mu.Unlock()

	if email != "" {
		d.email[email] = targetID
	}
	if phone != "" {
		d.phone[phone] = targetID
	}
	if _, ok := d.buckets[targetID]; !ok {
		d.buckets[targetID] = []string{}
	}
}

// Resolve determines the winning target identity for an incoming record.
// candidateID is the freshly generated id used when no existing identity
// matches; sourceID is appended to the winner's merge bucket either way.
// Returns the winning id and whether the record merged into an existing
// identity.
//
// When email and phone match two different existing identities the phone
// match wins. The tie is logged so conflicting source data is visible.
func (d *Deduper) Resolve(candidateID, sourceID, email, phone string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var existing string
	emailRegistered := false
	phoneRegistered := false

	if email != "" {
		if id, ok := d.email[email]; ok {
			existing = id
		} else {
			d.email[email] = candidateID
			emailRegistered = true
		}
	}

	if phone != "" {
		if id, ok := d.phone[phone]; ok {
			if existing != "" && existing != id {
				d.logger.Warn("Identity matched two existing entities; phone match wins",
					zap.String("sourceId", sourceID),
					zap.String("emailMatch", existing),
					zap.String("phoneMatch", id))
			}
			existing = id
		} else {
			d.phone[phone] = candidateID
			phoneRegistered = true
		}
	}

	winner := candidateID
	merged := false
	if existing != "" {
		winner = existing
		merged = true
		// Keys registered for this record must point at the winner, not
		// at the candidate id that will never exist.
		if emailRegistered {
			d.email[email] = winner
		}
		if phoneRegistered {
			d.phone[phone] = winner
		}
	}

	if sourceID != "" {
		d.buckets[winner] = append(d.buckets[winner], sourceID)
		d.canonical[sourceID] = winner
	}

	return winner, merged
}

// CanonicalFor maps a source identifier back to the canonical target
// identity it was folded into.
func (d *Deduper) CanonicalFor(sourceID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.canonical[sourceID]
	return id, ok
}

// MergeTable returns a copy of the canonical-id to source-ids mapping
func (d *Deduper) MergeTable() map[string][]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]string, len(d.buckets))
	for id, sources := range d.buckets {
		bucket := make([]string, len(sources))
		copy(bucket, sources)
		out[id] = bucket
	}
	return out
}

// StripIdentityFields removes identity-only attributes from a payload,
// returning the removed values. The domain record keeps everything else.
func StripIdentityFields(rec model.Record) model.Record {
	removed := model.Record{}
	for _, field := range identityOnlyFields {
		if v, ok := rec[field]; ok {
			removed[field] = v
			delete(rec, field)
		}
	}
	return removed
}

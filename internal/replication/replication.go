// Package replication implements the eventually-consistent replication
// protocol of §4.3: a monotonically versioned archive on the server side,
// delta updates keyed by create/delete cancellation, and a pull-based
// replica with an optional signature/certificate validation hook.
package replication

import (
	"sync"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/sirupsen/logrus"
)

// Keyed is implemented by every type that can be replicated: rules and
// registry records all expose a stable value Key() (§9: "replication
// objects as values" — equality must ignore created/deleted stamps but
// include the signature bytes).
type Keyed interface {
	Key() string
}

// record is one entry in an archive: the wrapped object plus the version it
// was created in and, once deleted, the version it was deleted in. An
// archive keeps every record ever inserted, never overwriting one key's slot
// with another record of the same key — a deleted record and its later
// structurally-identical reinsertion coexist as two independent records, so
// GetUpdatesSince can see and cancel both halves of a delete-then-reinsert
// within one interval (§4.3, §9).
type record[T Keyed] struct {
	key     string
	created int
	deleted *int
	object  T
}

// Archive stores both live and deleted objects, modeling the raw database
// backing a CanonicalStore. Safe for concurrent use.
type Archive[T Keyed] struct {
	mu      sync.RWMutex
	records []*record[T]
	version int
}

// NewArchive creates an empty Archive.
func NewArchive[T Keyed]() *Archive[T] {
	return &Archive[T]{}
}

// Version returns the archive's current version.
func (a *Archive[T]) Version() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Store wraps an Archive and implements the server side of the replication
// protocol (§4.3).
type Store[T Keyed] struct {
	archive *Archive[T]
	maxLag  time.Duration
}

// NewStore creates a CanonicalStore backed by archive, advertising updates
// as valid for maxLag before a replica must re-poll.
func NewStore[T Keyed](archive *Archive[T], maxLag time.Duration) *Store[T] {
	return &Store[T]{archive: archive, maxLag: maxLag}
}

// Insert appends a new record for obj, stamping created with the next
// version. It never overwrites an existing record for the same Key: a prior
// deleted record for a structurally-identical object is left in place
// alongside the fresh one, so GetUpdatesSince can see and cancel both halves
// of a delete-then-reinsert within one interval (§4.3).
func (s *Store[T]) Insert(obj T) {
	s.archive.mu.Lock()
	defer s.archive.mu.Unlock()
	s.archive.version++
	s.archive.records = append(s.archive.records, &record[T]{key: obj.Key(), created: s.archive.version, object: obj})
}

// Delete stamps the live record matching obj's Key with the next version as
// deleted. Returns NotFound if no live record matches.
func (s *Store[T]) Delete(obj T) error {
	s.archive.mu.Lock()
	defer s.archive.mu.Unlock()
	key := obj.Key()
	for _, rec := range s.archive.records {
		if rec.key != key || rec.deleted != nil {
			continue
		}
		s.archive.version++
		v := s.archive.version
		rec.deleted = &v
		return nil
	}
	return apperrors.NotFound("replicated object", key)
}

// Objects returns every currently live object.
func (s *Store[T]) Objects() []T {
	s.archive.mu.RLock()
	defer s.archive.mu.RUnlock()
	out := make([]T, 0, len(s.archive.records))
	for _, rec := range s.archive.records {
		if rec.deleted == nil {
			out = append(out, rec.object)
		}
	}
	return out
}

// Update is the payload returned by GetUpdatesSince: every object created or
// deleted between fromVersion and the archive's current version, with the
// create-then-delete (and delete-then-recreate) intersection cancelled out
// so that net-zero churn within one interval produces an empty update (§4.3).
type Update[T Keyed] struct {
	FromVersion int
	ToVersion   int
	ValidUntil  time.Time
	Created     []T
	Deleted     []T
}

// GetUpdatesSince computes the Update a replica at fromVersion needs to
// catch up to the archive's current version (§4.3). Pass 0 for a fresh
// replica.
func (s *Store[T]) GetUpdatesSince(fromVersion int) Update[T] {
	s.archive.mu.RLock()
	defer s.archive.mu.RUnlock()

	toVersion := s.archive.version
	createdByKey := map[string]T{}
	deletedByKey := map[string]T{}

	deletedAfter := func(version int, deleted *int) bool {
		return deleted == nil || version < *deleted
	}
	deletedBefore := func(deleted *int, version int) bool {
		return deleted != nil && *deleted <= version
	}

	for _, rec := range s.archive.records {
		if fromVersion < rec.created && rec.created <= toVersion && deletedAfter(toVersion, rec.deleted) {
			createdByKey[rec.key] = rec.object
		}
		if rec.created <= fromVersion && deletedAfter(fromVersion, rec.deleted) && deletedBefore(rec.deleted, toVersion) {
			deletedByKey[rec.key] = rec.object
		}
	}

	for key := range createdByKey {
		if _, reAdded := deletedByKey[key]; reAdded {
			delete(createdByKey, key)
			delete(deletedByKey, key)
		}
	}

	return Update[T]{
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		ValidUntil:  time.Now().Add(s.maxLag),
		Created:     mapValues(createdByKey),
		Deleted:     mapValues(deletedByKey),
	}
}

func mapValues[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Validator validates incoming replica updates before they are applied: a
// rule-signature check for policies, a certificate well-formedness check for
// registry records (§4.3).
type Validator[T Keyed] interface {
	IsValid(obj T) bool
}

// Source is what a Replica pulls updates from; Store[T] satisfies it
// directly, and an HTTP client stub can satisfy it across a site boundary.
type Source[T Keyed] interface {
	GetUpdatesSince(fromVersion int) Update[T]
}

// Replica stores a client-side eventually-consistent copy of a CanonicalStore
// (§4.3). Update() is a no-op while the replica is still valid; otherwise it
// pulls, validates, and atomically applies a new Update, invoking onUpdate
// if every object validates.
type Replica[T Keyed] struct {
	mu         sync.RWMutex
	objects    map[string]T
	source     Source[T]
	validator  Validator[T]
	onUpdate   func(created, deleted []T)
	version    int
	validUntil time.Time
	logger     *logrus.Entry
}

// NewReplica creates an empty Replica pulling from source. validator and
// onUpdate may be nil.
func NewReplica[T Keyed](source Source[T], validator Validator[T], onUpdate func(created, deleted []T)) *Replica[T] {
	return &Replica[T]{
		objects:    map[string]T{},
		source:     source,
		validator:  validator,
		onUpdate:   onUpdate,
		validUntil: time.Unix(0, 0),
		logger:     logrus.WithField("component", "replica"),
	}
}

// IsValid reports whether the replica is currently within its staleness
// bound and does not need to pull an update.
func (r *Replica[T]) IsValid() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Now().Before(r.validUntil)
}

// Update pulls and applies a new delta if the replica has gone stale. If any
// object in the update fails validation, the entire update is discarded and
// the replica remains at its previous version (§4.3).
func (r *Replica[T]) Update() {
	if r.IsValid() {
		return
	}

	update := r.source.GetUpdatesSince(r.currentVersion())

	if r.validator != nil {
		for _, obj := range update.Created {
			if !r.validator.IsValid(obj) {
				r.logger.WithField("key", obj.Key()).Error("replica: created object failed validation, discarding update")
				return
			}
		}
		for _, obj := range update.Deleted {
			if !r.validator.IsValid(obj) {
				r.logger.WithField("key", obj.Key()).Error("replica: deleted object failed validation, discarding update")
				return
			}
		}
	}

	r.mu.Lock()
	for _, obj := range update.Deleted {
		delete(r.objects, obj.Key())
	}
	for _, obj := range update.Created {
		r.objects[obj.Key()] = obj
	}
	r.version = update.ToVersion
	r.validUntil = update.ValidUntil
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(update.Created, update.Deleted)
	}
}

func (r *Replica[T]) currentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Objects returns a snapshot of every object currently in the replica.
func (r *Replica[T]) Objects() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, obj)
	}
	return out
}

// Version returns the replica's current version number.
func (r *Replica[T]) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

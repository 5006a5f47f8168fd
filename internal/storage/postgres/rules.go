package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// RuleStore persists policy.Rule values to PostgreSQL and adapts the raw
// Store to replication.Source[policy.Rule], so it can back a
// replication.Replica[policy.Rule] or feed internal/httpapi's
// UpdatesHandler directly.
type RuleStore struct {
	store  *Store
	maxLag time.Duration
}

// NewRuleStore creates a RuleStore over the "policy_rules" table.
func NewRuleStore(db *sql.DB, maxLag time.Duration) *RuleStore {
	return &RuleStore{store: New(db, "policy_rules"), maxLag: maxLag}
}

// EnsureSchema creates the backing table if absent.
func (s *RuleStore) EnsureSchema(ctx context.Context) error {
	return s.store.EnsureSchema(ctx)
}

// Insert persists rule, wrapping any database failure as apperrors.DatabaseError
// so the HTTP layer's WriteError maps it to a 500 with the §7 error shape
// instead of a bare driver error.
func (s *RuleStore) Insert(ctx context.Context, rule policy.Rule) error {
	payload, err := policy.MarshalRule(rule)
	if err != nil {
		return apperrors.Internal("marshal rule", err)
	}
	if err := s.store.Insert(ctx, rule.Key(), payload); err != nil {
		return apperrors.DatabaseError("insert rule", err)
	}
	return nil
}

// Delete removes rule's live record, translating sql.ErrNoRows into
// apperrors.NotFound (§7) so callers can tell "absent" apart from a
// database error.
func (s *RuleStore) Delete(ctx context.Context, rule policy.Rule) error {
	if err := s.store.Delete(ctx, rule.Key()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("policy rule", rule.Key())
		}
		return apperrors.DatabaseError("delete rule", err)
	}
	return nil
}

// Objects returns every currently live rule.
func (s *RuleStore) Objects(ctx context.Context) ([]policy.Rule, error) {
	rows, err := s.store.Objects(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("list rules", err)
	}
	rules, err := decodeRuleRows(rows)
	if err != nil {
		return nil, apperrors.Internal("decode rule row", err)
	}
	return rules, nil
}

// GetUpdatesSinceCtx computes the replication delta since fromVersion. This
// is the context-aware counterpart of replication.Source's GetUpdatesSince;
// GetUpdatesSince (no context) adapts it for that interface, swallowing
// errors into an empty, already-expired update so a transient database
// error just causes the next poll to retry (mirroring RemoteSource's
// failure handling in internal/httpapi).
func (s *RuleStore) GetUpdatesSinceCtx(ctx context.Context, fromVersion int) (replication.Update[policy.Rule], error) {
	rows, err := s.store.GetUpdatesSince(ctx, int64(fromVersion), s.maxLag)
	if err != nil {
		return replication.Update[policy.Rule]{}, err
	}
	created, err := decodeRuleRows(rows.Created)
	if err != nil {
		return replication.Update[policy.Rule]{}, err
	}
	deleted, err := decodeRuleRows(rows.Deleted)
	if err != nil {
		return replication.Update[policy.Rule]{}, err
	}
	return replication.Update[policy.Rule]{
		FromVersion: int(rows.FromVersion),
		ToVersion:   int(rows.ToVersion),
		ValidUntil:  rows.ValidUntil,
		Created:     created,
		Deleted:     deleted,
	}, nil
}

// GetUpdatesSince implements replication.Source[policy.Rule] using a
// background context; use GetUpdatesSinceCtx directly when a request
// context is available.
func (s *RuleStore) GetUpdatesSince(fromVersion int) replication.Update[policy.Rule] {
	update, err := s.GetUpdatesSinceCtx(context.Background(), fromVersion)
	if err != nil {
		return replication.Update[policy.Rule]{FromVersion: fromVersion, ToVersion: fromVersion, ValidUntil: time.Now()}
	}
	return update
}

func decodeRuleRows(rows []Row) ([]policy.Rule, error) {
	out := make([]policy.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := policy.UnmarshalRule(row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

var _ replication.Source[policy.Rule] = (*RuleStore)(nil)

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/registry"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// PartyStore persists registry.PartyDescription records, the Postgres
// counterpart of an in-memory replication.Archive[PartyDescription].
type PartyStore struct {
	store  *Store
	maxLag time.Duration
}

func NewPartyStore(db *sql.DB, maxLag time.Duration) *PartyStore {
	return &PartyStore{store: New(db, "registry_parties"), maxLag: maxLag}
}

func (s *PartyStore) EnsureSchema(ctx context.Context) error { return s.store.EnsureSchema(ctx) }

func (s *PartyStore) Insert(ctx context.Context, party registry.PartyDescription) error {
	payload, err := json.Marshal(party)
	if err != nil {
		return apperrors.Internal("marshal party", err)
	}
	if err := s.store.Insert(ctx, party.Key(), payload); err != nil {
		return apperrors.DatabaseError("insert party", err)
	}
	return nil
}

func (s *PartyStore) Delete(ctx context.Context, party registry.PartyDescription) error {
	if err := s.store.Delete(ctx, party.Key()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("party", party.Key())
		}
		return apperrors.DatabaseError("delete party", err)
	}
	return nil
}

func (s *PartyStore) Objects(ctx context.Context) ([]registry.PartyDescription, error) {
	rows, err := s.store.Objects(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("list parties", err)
	}
	parties, err := decodeJSONRows[registry.PartyDescription](rows)
	if err != nil {
		return nil, apperrors.Internal("decode party row", err)
	}
	return parties, nil
}

func (s *PartyStore) GetUpdatesSince(fromVersion int) replication.Update[registry.PartyDescription] {
	return getUpdatesSinceJSON[registry.PartyDescription](context.Background(), s.store, s.maxLag, fromVersion)
}

var _ replication.Source[registry.PartyDescription] = (*PartyStore)(nil)

// SiteStore persists registry.SiteDescription records.
type SiteStore struct {
	store  *Store
	maxLag time.Duration
}

func NewSiteStore(db *sql.DB, maxLag time.Duration) *SiteStore {
	return &SiteStore{store: New(db, "registry_sites"), maxLag: maxLag}
}

func (s *SiteStore) EnsureSchema(ctx context.Context) error { return s.store.EnsureSchema(ctx) }

func (s *SiteStore) Insert(ctx context.Context, site registry.SiteDescription) error {
	payload, err := json.Marshal(site)
	if err != nil {
		return apperrors.Internal("marshal site", err)
	}
	if err := s.store.Insert(ctx, site.Key(), payload); err != nil {
		return apperrors.DatabaseError("insert site", err)
	}
	return nil
}

func (s *SiteStore) Delete(ctx context.Context, site registry.SiteDescription) error {
	if err := s.store.Delete(ctx, site.Key()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("site", site.Key())
		}
		return apperrors.DatabaseError("delete site", err)
	}
	return nil
}

func (s *SiteStore) Objects(ctx context.Context) ([]registry.SiteDescription, error) {
	rows, err := s.store.Objects(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("list sites", err)
	}
	sites, err := decodeJSONRows[registry.SiteDescription](rows)
	if err != nil {
		return nil, apperrors.Internal("decode site row", err)
	}
	return sites, nil
}

func (s *SiteStore) GetUpdatesSince(fromVersion int) replication.Update[registry.SiteDescription] {
	return getUpdatesSinceJSON[registry.SiteDescription](context.Background(), s.store, s.maxLag, fromVersion)
}

var _ replication.Source[registry.SiteDescription] = (*SiteStore)(nil)

func decodeJSONRows[T replication.Keyed](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var obj T
		if err := json.Unmarshal(row.Payload, &obj); err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func getUpdatesSinceJSON[T replication.Keyed](ctx context.Context, store *Store, maxLag time.Duration, fromVersion int) replication.Update[T] {
	rows, err := store.GetUpdatesSince(ctx, int64(fromVersion), maxLag)
	if err != nil {
		return replication.Update[T]{FromVersion: fromVersion, ToVersion: fromVersion, ValidUntil: time.Now()}
	}
	created, err := decodeJSONRows[T](rows.Created)
	if err != nil {
		return replication.Update[T]{FromVersion: fromVersion, ToVersion: fromVersion, ValidUntil: time.Now()}
	}
	deleted, err := decodeJSONRows[T](rows.Deleted)
	if err != nil {
		return replication.Update[T]{FromVersion: fromVersion, ToVersion: fromVersion, ValidUntil: time.Now()}
	}
	return replication.Update[T]{
		FromVersion: int(rows.FromVersion),
		ToVersion:   int(rows.ToVersion),
		ValidUntil:  rows.ValidUntil,
		Created:     created,
		Deleted:     deleted,
	}
}

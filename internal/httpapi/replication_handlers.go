package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// updateWire is the JSON envelope for replication.Update[T] (§6.2): a
// from/to version pair, an ISO-8601 valid_until, and the created/deleted
// object lists, each serialized by the caller-supplied codec.
type updateWire struct {
	FromVersion int           `json:"from_version"`
	ToVersion   int           `json:"to_version"`
	ValidUntil  string        `json:"valid_until"`
	Created     []interface{} `json:"created"`
	Deleted     []interface{} `json:"deleted"`
}

// UpdatesHandler builds the GET /updates handler for an archive of type T
// (§6.2: "one updates endpoint per archive"). source is any
// replication.Source — the in-memory canonical store or a Postgres-backed
// one — and encode converts a live T into its wire representation (typically
// a struct with json tags, or a policy.Envelope).
func UpdatesHandler[T replication.Keyed](source replication.Source[T], encode func(T) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fromVersion := 0
		if raw := r.URL.Query().Get("from_version"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				WriteError(w, apperrors.InvalidInput("from_version", "must be an integer"))
				return
			}
			fromVersion = v
		}

		update := source.GetUpdatesSince(fromVersion)

		created, err := encodeAll(update.Created, encode)
		if err != nil {
			WriteError(w, apperrors.Internal("encode created objects", err))
			return
		}
		deleted, err := encodeAll(update.Deleted, encode)
		if err != nil {
			WriteError(w, apperrors.Internal("encode deleted objects", err))
			return
		}

		WriteJSON(w, http.StatusOK, updateWire{
			FromVersion: update.FromVersion,
			ToVersion:   update.ToVersion,
			ValidUntil:  update.ValidUntil.Format(time.RFC3339),
			Created:     created,
			Deleted:     deleted,
		})
	}
}

func encodeAll[T any](objs []T, encode func(T) (interface{}, error)) ([]interface{}, error) {
	out := make([]interface{}, 0, len(objs))
	for _, obj := range objs {
		env, err := encode(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

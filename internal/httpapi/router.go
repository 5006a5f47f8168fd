package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/execution"
	"github.com/ddm-federation/mahiru-go/internal/logging"
	"github.com/ddm-federation/mahiru-go/internal/metrics"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/ratelimit"
	"github.com/ddm-federation/mahiru-go/internal/registry"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// Deps bundles every component NewRouter wires into handlers.
type Deps struct {
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry // backs the /metrics endpoint; nil disables it
	RateLimiter *ratelimit.Limiter
	AuthSecret  []byte // empty disables bearer-token auth

	Rules   replication.Source[policy.Rule]
	Parties replication.Source[registry.PartyDescription]
	Sites   replication.Source[registry.SiteDescription]

	AssetStore *assetstore.Store
	Execution  *ExecutionHandlers
	Submit     *SubmitHandlers
	Admin      *AdminHandlers
}

// NewRouter builds the site's HTTP API: the replication /updates endpoints
// (§6.2), the asset-store endpoints (§6.4), and the execution dispatch
// endpoint (§4.7), each wrapped in logging, metrics, recovery, rate-limit
// and auth middleware.
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(MetricsMiddleware(deps.Metrics))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware(peerKey))
	}
	r.Use(AuthMiddleware(deps.AuthSecret))

	if deps.Rules != nil {
		r.HandleFunc("/policies/updates", UpdatesHandler(deps.Rules, encodeRule)).Methods(http.MethodGet)
	}
	if deps.Parties != nil {
		r.HandleFunc("/registry/parties/updates", UpdatesHandler(deps.Parties, encodeIdentity[registry.PartyDescription])).Methods(http.MethodGet)
	}
	if deps.Sites != nil {
		r.HandleFunc("/registry/sites/updates", UpdatesHandler(deps.Sites, encodeIdentity[registry.SiteDescription])).Methods(http.MethodGet)
	}

	if deps.AssetStore != nil {
		assets := NewAssetHandlers(deps.AssetStore)
		r.HandleFunc("/assets/{id}", assets.Retrieve).Methods(http.MethodGet)
		r.HandleFunc("/assets/{id}/serve", assets.Serve).Methods(http.MethodPost)
	}

	if deps.Execution != nil {
		r.HandleFunc("/execute", deps.Execution.Dispatch).Methods(http.MethodPost)
	}

	if deps.Submit != nil {
		r.HandleFunc("/submit", deps.Submit.Submit).Methods(http.MethodPost)
	}

	if deps.Admin != nil {
		if deps.Admin.Rules != nil {
			r.HandleFunc("/admin/policies", deps.Admin.PostRule).Methods(http.MethodPost)
			r.HandleFunc("/admin/policies", deps.Admin.DeleteRule).Methods(http.MethodDelete)
		}
		if deps.Admin.Parties != nil {
			r.HandleFunc("/admin/registry/parties", deps.Admin.PostParty).Methods(http.MethodPost)
			r.HandleFunc("/admin/registry/parties", deps.Admin.DeleteParty).Methods(http.MethodDelete)
		}
		if deps.Admin.Sites != nil {
			r.HandleFunc("/admin/registry/sites", deps.Admin.PostSite).Methods(http.MethodPost)
			r.HandleFunc("/admin/registry/sites", deps.Admin.DeleteSite).Methods(http.MethodDelete)
		}
	}

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

func peerKey(r *http.Request) string {
	if site := PeerSiteID(r.Context()); site != "" {
		return string(site)
	}
	return r.RemoteAddr
}

func healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func encodeRule(r policy.Rule) (interface{}, error) {
	return policy.ToEnvelope(r)
}

// DecodeRule is the client-side counterpart of encodeRule, for a
// RemoteSource[policy.Rule].
func DecodeRule(raw json.RawMessage) (policy.Rule, error) {
	var env policy.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return policy.FromEnvelope(env)
}

func encodeIdentity[T any](obj T) (interface{}, error) {
	return obj, nil
}

// DecodeIdentity is the client-side counterpart of encodeIdentity, for a
// RemoteSource[T] of registry records (T must round-trip through plain
// struct JSON, which PartyDescription and SiteDescription do).
func DecodeIdentity[T any](raw json.RawMessage) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}

// ensure execution.SiteClient stays satisfied by *Client at compile time.
var _ execution.SiteClient = (*Client)(nil)

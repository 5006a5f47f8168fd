// Command site runs one federation site process: it hosts the canonical
// stores for its locally authored policy rules and registry records,
// serves the replication wire protocol and asset-store contract over HTTP,
// and accepts and executes dispatched workflow jobs (§4, §6).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/config"
	"github.com/ddm-federation/mahiru-go/internal/execution"
	"github.com/ddm-federation/mahiru-go/internal/httpapi"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/lifecycle"
	"github.com/ddm-federation/mahiru-go/internal/logging"
	"github.com/ddm-federation/mahiru-go/internal/metrics"
	"github.com/ddm-federation/mahiru-go/internal/platform/database"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/ratelimit"
	"github.com/ddm-federation/mahiru-go/internal/registry"
	"github.com/ddm-federation/mahiru-go/internal/replication"
	"github.com/ddm-federation/mahiru-go/internal/signing"
	"github.com/ddm-federation/mahiru-go/internal/storage/memory"
	"github.com/ddm-federation/mahiru-go/internal/storage/postgres"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8443)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides env; in-memory storage when empty)")
	siteID := flag.String("site-id", "", "this site's site:<namespace>:<name> identifier")
	imageDir := flag.String("image-dir", "", "directory for asset-store image blobs")
	authSecretHex := flag.String("auth-secret", "", "hex-encoded HMAC secret for site-identity bearer tokens (disables auth when empty)")
	signingSeedHex := flag.String("signing-seed-hex", "", "hex-encoded master secret to derive this party's namespace signing keypair (logged, never persisted; omit to skip derivation)")
	flag.Parse()

	config.LoadDotEnv(".env")
	cfg := config.FromEnv()

	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		cfg.ListenAddr = trimmed
	}
	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.DSN = trimmed
	}
	if trimmed := strings.TrimSpace(*siteID); trimmed != "" {
		cfg.SiteID = trimmed
	}
	if cfg.SiteID == "" {
		fatalf("site-id is required (flag -site-id or SITE_ID env var)")
	}
	thisSite, err := ids.New(cfg.SiteID)
	if err != nil {
		fatalf("invalid site id %q: %v", cfg.SiteID, err)
	}

	logger := logging.New("site", cfg.LogLevel, cfg.LogFormat)
	logger.WithField("site_id", cfg.SiteID).Info("starting site")

	if trimmed := strings.TrimSpace(*signingSeedHex); trimmed != "" {
		secret, err := hex.DecodeString(trimmed)
		if err != nil {
			fatalf("invalid -signing-seed-hex: %v", err)
		}
		namespace, err := thisSite.Namespace()
		if err != nil {
			fatalf("site id has no namespace: %v", err)
		}
		pub, _, err := signing.DeriveKey(secret, namespace)
		if err != nil {
			fatalf("derive signing key: %v", err)
		}
		logger.WithField("namespace", namespace).
			WithField("public_key", hex.EncodeToString(pub)).
			Info("derived namespace signing keypair from master secret")
	}

	dir := strings.TrimSpace(*imageDir)
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fatalf("create image dir: %v", err)
	}

	var authSecret []byte
	if trimmed := strings.TrimSpace(*authSecretHex); trimmed != "" {
		decoded, err := hex.DecodeString(trimmed)
		if err != nil {
			fatalf("invalid -auth-secret: %v", err)
		}
		authSecret = decoded
	}

	rootCtx := context.Background()
	hooks := lifecycle.NewHooks()

	var evaluator *policy.Evaluator
	registryCore := &registry.Registry{}

	var ruleSource replication.Source[policy.Rule]
	var partySource replication.Source[registry.PartyDescription]
	var siteSource replication.Source[registry.SiteDescription]
	var assetStore *assetstore.Store

	if cfg.DSN != "" {
		db, err := database.Open(rootCtx, cfg.DSN)
		if err != nil {
			fatalf("connect to postgres: %v", err)
		}
		hooks.OnPostStopNamed("close-database", func(ctx context.Context) error { return db.Close() })

		ruleStore := postgres.NewRuleStore(db, cfg.MaxReplicationLag)
		partyStore := postgres.NewPartyStore(db, cfg.MaxReplicationLag)
		siteStore := postgres.NewSiteStore(db, cfg.MaxReplicationLag)

		hooks.OnPreStartNamed("ensure-schema", func(ctx context.Context) error {
			if err := ruleStore.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := partyStore.EnsureSchema(ctx); err != nil {
				return err
			}
			return siteStore.EnsureSchema(ctx)
		})

		ruleSource, partySource, siteSource = ruleStore, partyStore, siteStore
	}

	// The asset store needs the policy evaluator, which is only built once
	// the rule replica over these same stores exists; bind it lazily.
	memStores := memory.New(cfg.MaxReplicationLag, &lazyEvaluator{get: func() *policy.Evaluator { return evaluator }}, dir)
	assetStore = memStores.AssetStore

	if ruleSource == nil {
		ruleSource = memStores.RuleStore
	}
	if partySource == nil {
		partySource = memStores.PartyStore
	}
	if siteSource == nil {
		siteSource = memStores.SiteStore
	}

	var adminRules httpapi.RuleWriter
	if rw, ok := ruleSource.(httpapi.RuleWriter); ok {
		adminRules = rw
	} else if s, ok := ruleSource.(*replication.Store[policy.Rule]); ok {
		adminRules = memory.NewRuleWriter(s)
	}
	var adminParties httpapi.PartyWriter
	if pw, ok := partySource.(httpapi.PartyWriter); ok {
		adminParties = pw
	} else if s, ok := partySource.(*replication.Store[registry.PartyDescription]); ok {
		adminParties = memory.NewPartyWriter(s)
	}
	var adminSites httpapi.SiteWriter
	if sw, ok := siteSource.(httpapi.SiteWriter); ok {
		adminSites = sw
	} else if s, ok := siteSource.(*replication.Store[registry.SiteDescription]); ok {
		adminSites = memory.NewSiteWriter(s)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ruleValidator := policy.NewRuleValidator(registryCore)
	ruleReplica := replication.NewReplica[policy.Rule](ruleSource, ruleValidator, func(created, deleted []policy.Rule) {
		m.ReplicationUpdates.WithLabelValues("rules").Add(float64(len(created) + len(deleted)))
	})
	partyValidator := registry.RecordValidator[registry.PartyDescription]{}
	partyReplica := replication.NewReplica[registry.PartyDescription](partySource, partyValidator, func(created, deleted []registry.PartyDescription) {
		m.ReplicationUpdates.WithLabelValues("parties").Add(float64(len(created) + len(deleted)))
	})
	siteValidator := registry.RecordValidator[registry.SiteDescription]{}
	siteReplica := replication.NewReplica[registry.SiteDescription](siteSource, siteValidator, func(created, deleted []registry.SiteDescription) {
		m.ReplicationUpdates.WithLabelValues("sites").Add(float64(len(created) + len(deleted)))
	})

	registryCore.Parties = partyReplica
	registryCore.Sites = siteReplica

	// Refresh-on-read: Update is a no-op while the replica is within its
	// staleness bound, so every evaluation sees rules at most MaxReplicationLag old.
	collection := policy.NewReplicaCollection(func() []policy.Rule {
		ruleReplica.Update()
		return ruleReplica.Objects()
	})
	evaluator = policy.NewEvaluator(collection)
	calculator := workflow.NewPermissionCalculator(evaluator)
	planner := workflow.NewPlanner(evaluator, cfg.MaxPlans)
	planner.Metrics = m

	endpoints := &registryEndpoints{registry: registryCore}
	client := httpapi.NewClient(http.DefaultClient, endpoints)
	if len(authSecret) > 0 {
		issuer := httpapi.NewSiteTokenIssuer(authSecret, time.Hour)
		client.Token = issuer.Issue
	}

	admin := execution.NewLocalAdministrator(dir, func(ctx context.Context, assetID ids.Identifier) (string, error) {
		asset, err := assetStore.Retrieve(assetID, thisSite)
		if err != nil {
			return "", err
		}
		return asset.ImagePath, nil
	})

	execHandlers := httpapi.NewExecutionHandlers(
		thisSite, calculator, evaluator, client, assetStore, admin, registryCore,
		uuid.NewString,
	)
	execHandlers.Metrics = m
	execHandlers.ScanInterval = cfg.ScanInterval

	executor := execution.NewExecutor(client, thisSite)
	executor.PollInterval = cfg.PollInterval
	submitHandlers := httpapi.NewSubmitHandlers(planner, executor, registryCore)

	adminHandlers := httpapi.NewAdminHandlers(adminRules, ruleValidator, adminParties, adminSites)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:      logger,
		Metrics:     m,
		Registry:    reg,
		RateLimiter: ratelimit.New(ratelimit.DefaultConfig()),
		AuthSecret:  authSecret,
		Rules:      ruleSource,
		Parties:    partySource,
		Sites:      siteSource,
		AssetStore: assetStore,
		Execution:  execHandlers,
		Submit:     submitHandlers,
		Admin:      adminHandlers,
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	hooks.OnPostStartNamed("listen", func(ctx context.Context) error {
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Fatal("http server failed")
			}
		}()
		return nil
	})
	hooks.OnPreStopNamed("shutdown-http", func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := hooks.RunPreStart(rootCtx); err != nil {
		fatalf("pre-start: %v", err)
	}
	if err := hooks.RunPostStart(rootCtx); err != nil {
		fatalf("post-start: %v", err)
	}
	logger.WithField("addr", cfg.ListenAddr).Info("site listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	defer cancel()
	if err := hooks.RunPreStop(shutdownCtx); err != nil {
		logger.WithError(err).Error("pre-stop failed")
	}
	if err := hooks.RunPostStop(shutdownCtx); err != nil {
		logger.WithError(err).Error("post-stop failed")
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// lazyEvaluator defers to a policy.Evaluator that is constructed after the
// stores referencing it; get must return non-nil by the time any request is
// served.
type lazyEvaluator struct {
	get func() *policy.Evaluator
}

func (l *lazyEvaluator) PermissionsForAsset(asset ids.Identifier) policy.Permissions {
	return l.get().PermissionsForAsset(asset)
}

func (l *lazyEvaluator) MayAccess(permissions policy.Permissions, site ids.Identifier) bool {
	return l.get().MayAccess(permissions, site)
}

// registryEndpoints adapts the local Registry to httpapi.Endpoints by
// resolving a site id to its published HTTP endpoint.
type registryEndpoints struct {
	registry *registry.Registry
}

func (e *registryEndpoints) Endpoint(site ids.Identifier) (string, error) {
	desc, ok := e.registry.Site(site)
	if !ok {
		return "", fmt.Errorf("unknown site %s", site)
	}
	return desc.Endpoint, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/originpath/assocpipeline/internal/agents"
	"github.com/originpath/assocpipeline/internal/checkpoint"
	"github.com/originpath/assocpipeline/internal/config"
	"github.com/originpath/assocpipeline/internal/deadletter"
	"github.com/originpath/assocpipeline/internal/executor"
	"github.com/originpath/assocpipeline/internal/health"
	"github.com/originpath/assocpipeline/internal/httpcore"
	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/orchestrator"
	"github.com/originpath/assocpipeline/internal/resilience"
	"github.com/originpath/assocpipeline/internal/schema"
	"github.com/originpath/assocpipeline/internal/secret"
	"github.com/originpath/assocpipeline/internal/store"
	"github.com/originpath/assocpipeline/pkg/anthropic"
	"github.com/originpath/assocpipeline/pkg/geocode"
	"github.com/originpath/assocpipeline/pkg/notion"
	salesforceInit "github.com/k-capehart/go-salesforce/v3"
	sfpkg "github.com/originpath/assocpipeline/pkg/salesforce"
)

var cfg *config.Config

var (
	flagMode        string
	flagAssocs      []string
	flagEnrichment  string
	flagValidation  string
	flagDryRun      bool
	flagJobID       string
	flagResume      string
	flagPersistDB   bool
	flagLogLevel    string
	flagMetricsAddr string
	flagPersistDSN  string
	flagConfigPath  string
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Association research pipeline",
	Long:  "Discovers association member pages, extracts and enriches company records, validates and resolves them, and exports curated results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(flagConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagLogLevel != "" {
			c.Log.Level = flagLogLevel
		}
		cfg = c

		if _, err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	RunE: runPipeline,
}

func init() {
	rootCmd.Flags().StringVar(&flagMode, "mode", "full", "full|extract|extract-all|enrich|enrich-all|validate|validate-all")
	rootCmd.Flags().StringArrayVarP(&flagAssocs, "association", "a", nil, "association source group to run (repeatable)")
	rootCmd.Flags().StringVar(&flagEnrichment, "enrichment", "all", "firmographic|techstack|contacts|all")
	rootCmd.Flags().StringVar(&flagValidation, "validation", "all", "dedupe|crossref|score|all")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "run the phase engine without persisted mutations")
	rootCmd.Flags().StringVar(&flagJobID, "job-id", "", "explicit job id; generated if omitted")
	rootCmd.Flags().StringVar(&flagResume, "resume", "", "load existing state for this job id and continue")
	rootCmd.Flags().BoolVar(&flagPersistDB, "persist-db", false, "mirror job/phase state to the external store in addition to the state file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "DEBUG|INFO|WARN|ERROR")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "override the observability surface bind address")
	rootCmd.Flags().StringVar(&flagPersistDSN, "persist-dsn", "", "override the persistence mirror DSN")
	rootCmd.Flags().StringVar(&flagConfigPath, "config", "", "directory containing config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitCode := 1
		if fe, ok := err.(*fatalPhaseError); ok {
			_ = fe
			exitCode = 2
		}
		os.Exit(exitCode)
	}
}

// fatalPhaseError distinguishes a phase-engine failure (exit 2) from a
// startup/configuration failure (exit 1).
type fatalPhaseError struct{ err error }

func (e *fatalPhaseError) Error() string { return e.err.Error() }
func (e *fatalPhaseError) Unwrap() error { return e.err }

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zap.L()

	httpClient := httpcore.New(httpcore.Options{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		DefaultRate: rate.Limit(cfg.HTTP.DefaultRatePerSec),
		CircuitBreakers: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.HTTP.FailureThreshold,
			ResetTimeout:     cfg.HTTP.ResetTimeout,
		},
		Retry: resilience.RetryConfig{MaxAttempts: cfg.HTTP.MaxRetries},
	})

	secretProvider := buildSecretProvider(httpClient)

	schemaRegistry, err := schema.NewRegistry(cfg.Pipeline.SchemaRoot)
	if err != nil {
		log.Warn("schema registry load failed, contract validation disabled", zap.Error(err))
		schemaRegistry = nil
	}

	checkpointStore, err := checkpoint.NewStore(cfg.Pipeline.StateRoot)
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}

	dlq, err := deadletter.NewSink(cfg.Pipeline.DataRoot + "/dead_letter")
	if err != nil {
		return fmt.Errorf("init dead-letter sink: %w", err)
	}

	deps := buildDeps(ctx, httpClient, secretProvider, schemaRegistry)
	registry := agents.BuildRegistry(deps)

	schemaMode := schema.ModeSoft
	if cfg.Pipeline.SchemaMode == string(schema.ModeStrict) {
		schemaMode = schema.ModeStrict
	}
	robotsGate := orchestrator.NewRobotsGate()
	wrap := orchestrator.BuildWrapper(schemaRegistry, schemaMode, agents.PolicyDeclarations(), robotsGate)

	exec := executor.New(registry, dlq, resilience.DefaultRetryConfig(), wrap)

	dsn := cfg.Store.DSN
	if flagPersistDSN != "" {
		dsn = flagPersistDSN
	}
	var mirror store.Store
	if flagPersistDB && dsn != "" {
		mirror, err = store.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open persistence mirror: %w", err)
		}
		if err := mirror.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate persistence mirror: %w", err)
		}
		defer mirror.Close() //nolint:errcheck
	}

	seeds, domains := resolveAssociations(cfg, flagAssocs)

	o := orchestrator.New(orchestrator.Options{
		Config:          cfg,
		Checkpoint:      checkpointStore,
		Store:           mirror,
		Secrets:         secretProvider,
		Handlers:        buildHandlers(exec, deps, robotsGate, seeds, domains, flagMode, flagEnrichment, flagValidation),
		RequiredSecrets: requiredSecretsFor(flagMode),
		DryRun:          flagDryRun,
	})

	jobID := flagJobID
	if flagResume != "" {
		jobID = flagResume
		if err := o.Load(jobID); err != nil {
			return fmt.Errorf("resume job %s: %w", jobID, err)
		}
	} else {
		if jobID == "" {
			jobID = uuid.NewString()
		}
		o.Init(jobID)
	}

	metricsAddr := cfg.Metrics.Addr
	if flagMetricsAddr != "" {
		metricsAddr = flagMetricsAddr
	}
	healthServer := health.New(metricsAddr)
	healthServer.SetStatusProvider(o)
	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go func() {
		if err := healthServer.Start(healthCtx); err != nil {
			log.Warn("health server stopped", zap.Error(err))
		}
	}()

	summary := o.CheckHealth(ctx)
	for _, w := range summary.Warnings {
		log.Warn("startup health warning", zap.String("warning", w))
	}
	if !summary.FreeDiskOK {
		return fmt.Errorf("insufficient free disk under data root")
	}

	if err := o.Run(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		return &fatalPhaseError{err: err}
	}

	return nil
}

func buildSecretProvider(httpClient *httpcore.Client) *secret.Provider {
	backends := []secret.Backend{}
	if cfg.Secret.ExternalStoreURL != "" {
		token, _ := os.LookupEnv("PIPELINE_SECRET_STORE_TOKEN")
		backends = append(backends, secret.NewHTTPStoreBackend(httpClient, cfg.Secret.ExternalStoreURL, token))
	}
	backends = append(backends, secret.NewEnvBackend(os.LookupEnv))
	return secret.NewProvider(cfg.Secret.TTL, backends...)
}

func buildDeps(ctx context.Context, httpClient *httpcore.Client, secrets *secret.Provider, schemas *schema.Registry) agents.Deps {
	deps := agents.Deps{
		HTTP:    httpClient,
		Schemas: schemas,
		Config:  cfg,
	}

	if apiKey, ok := secrets.Get(ctx, "ANTHROPIC_API_KEY"); ok {
		deps.Anthropic = anthropic.NewClient(apiKey)
	}

	if notionToken, ok := secrets.Get(ctx, "NOTION_TOKEN"); ok {
		deps.Notion = notion.NewClient(notionToken)
	}

	if clientID, ok := secrets.Get(ctx, "SALESFORCE_CLIENT_ID"); ok {
		domain, _ := secrets.Get(ctx, "SALESFORCE_LOGIN_URL")
		username, _ := secrets.Get(ctx, "SALESFORCE_USERNAME")
		pemPath, _ := secrets.Get(ctx, "SALESFORCE_KEY_PATH")
		pemData, err := os.ReadFile(pemPath)
		if err != nil {
			zap.L().Warn("salesforce key unreadable, export sink disabled", zap.Error(err))
		} else {
			sf, err := salesforceInit.Init(salesforceInit.Creds{
				Domain:         domain,
				Username:       username,
				ConsumerKey:    clientID,
				ConsumerRSAPem: string(pemData),
			})
			if err != nil {
				zap.L().Warn("salesforce init failed, export sink disabled", zap.Error(err))
			} else {
				deps.Salesforce = sfpkg.NewClient(sf)
			}
		}
	}

	if shpPath := cfg.Pipeline.SchemaRoot + "/territories.shp"; fileExists(shpPath) {
		client, err := geocode.NewClient(shpPath)
		if err != nil {
			zap.L().Warn("geocode shapefile load failed, geocoding disabled", zap.Error(err))
		} else {
			deps.Geocode = client
		}
	}

	return deps
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func resolveAssociations(cfg *config.Config, selected []string) (seeds []string, domains []string) {
	names := selected
	if len(names) == 0 {
		for name := range cfg.Associations.Directory {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	seenDomains := map[string]bool{}
	for _, name := range names {
		entry, ok := cfg.Associations.Directory[name]
		if !ok {
			continue
		}
		for _, seed := range entry.SeedURLs {
			seeds = append(seeds, seed)
			if host := hostOfSeed(seed); host != "" && !seenDomains[host] {
				seenDomains[host] = true
				domains = append(domains, host)
			}
		}
	}
	return seeds, domains
}

func hostOfSeed(seed string) string {
	host, err := httpcore.HostOf(seed)
	if err != nil {
		return ""
	}
	return host
}

func requiredSecretsFor(mode string) []string {
	switch mode {
	case "extract", "extract-all":
		return []string{"ANTHROPIC_API_KEY"}
	default:
		return nil
	}
}

// buildHandlers wires every phase handler and then trims the set to the
// phases the requested mode actually runs. A "-all" mode runs every
// phase up to and including its namesake; the bare mode name runs only
// that one phase, meant for use with --resume against state a prior
// "-all" run already checkpointed.
func buildHandlers(exec *executor.Executor, deps agents.Deps, robots *orchestrator.RobotsGate, seeds, domains []string, mode, enrichment, validation string) map[model.Phase]orchestrator.PhaseHandler {
	timeout := cfg.Pipeline.AgentTimeout
	notionDatabaseID, _ := os.LookupEnv("PIPELINE_NOTION_DATABASE_ID")
	outputDir := cfg.Pipeline.DataRoot + "/validated/" + time.Now().UTC().Format("20060102T150405Z")

	enrichmentSteps := splitSteps(enrichment)
	validationSteps := splitSteps(validation)

	all := map[model.Phase]orchestrator.PhaseHandler{
		model.PhaseGatekeeper:     agents.NewGatekeeperHandler(exec, robots, domains, timeout),
		model.PhaseDiscovery:      agents.NewDiscoveryHandler(exec, seeds, timeout),
		model.PhaseClassification: agents.NewClassificationHandler(exec, timeout),
		model.PhaseExtraction:     agents.NewExtractionHandler(exec, timeout),
		model.PhaseEnrichment:     agents.NewEnrichmentHandler(exec, deps, notionDatabaseID, enrichmentSteps, timeout),
		model.PhaseValidation:     agents.NewValidationHandler(exec, deps, notionDatabaseID, validationSteps, timeout),
		model.PhaseResolution:     agents.NewResolutionHandler(exec, timeout),
		model.PhaseGraph:          agents.NewGraphHandler(exec, timeout),
		model.PhaseExport:         agents.NewExportHandler(exec, outputDir, timeout),
		model.PhaseMonitor:        agents.NewMonitorHandler(exec, timeout),
	}

	upTo := map[model.Phase]bool{}
	only := model.Phase("")
	switch mode {
	case "extract-all":
		upTo = phaseSet(model.PhaseGatekeeper, model.PhaseDiscovery, model.PhaseClassification, model.PhaseExtraction)
	case "extract":
		only = model.PhaseExtraction
	case "enrich-all":
		upTo = phaseSet(model.PhaseGatekeeper, model.PhaseDiscovery, model.PhaseClassification, model.PhaseExtraction, model.PhaseEnrichment)
	case "enrich":
		only = model.PhaseEnrichment
	case "validate-all":
		upTo = phaseSet(model.PhaseGatekeeper, model.PhaseDiscovery, model.PhaseClassification, model.PhaseExtraction, model.PhaseEnrichment, model.PhaseValidation)
	case "validate":
		only = model.PhaseValidation
	default:
		return all
	}

	if only != "" {
		return map[model.Phase]orchestrator.PhaseHandler{only: all[only]}
	}
	filtered := map[model.Phase]orchestrator.PhaseHandler{}
	for phase := range upTo {
		filtered[phase] = all[phase]
	}
	return filtered
}

func phaseSet(phases ...model.Phase) map[model.Phase]bool {
	set := make(map[model.Phase]bool, len(phases))
	for _, p := range phases {
		set[p] = true
	}
	return set
}

func splitSteps(flag string) []string {
	if flag == "" || flag == "all" {
		return nil
	}
	return strings.Split(flag, ",")
}

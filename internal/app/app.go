package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildwatch/internal/config"
	"buildwatch/internal/dedup"
	"buildwatch/internal/dispatch"
	"buildwatch/internal/domain"
	"buildwatch/internal/filter"
	"buildwatch/internal/ingest"
	jenkinsclient "buildwatch/internal/integrations/jenkins"
	"buildwatch/internal/integrations/llm"
	slacktransport "buildwatch/internal/integrations/slack"
	teamstransport "buildwatch/internal/integrations/teams"
	"buildwatch/internal/notify"
	"buildwatch/internal/pipeline"
	"buildwatch/internal/storage/sqlite"
)

func Main() {
	cfg := config.LoadConfig()
	log.Printf(
		"Config loaded. Jenkins=%s Jobs=%d FailureScope=%s DebounceWindow=%s PollInterval=%s Workers=%d Webhook=%v Slack=%v Teams=%v SummaryChannel=%v LogLevel=%s",
		cfg.JenkinsURL,
		len(cfg.Jobs),
		cfg.FailureScope,
		cfg.DebounceWindow(),
		cfg.PollInterval(),
		cfg.WorkerCount,
		cfg.WebhookConfigured(),
		cfg.SlackConfigured(),
		cfg.TeamsConfigured(),
		cfg.EnableSummaryChannel,
		cfg.LogLevel,
	)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer store.Close()
	marks, err := store.Watermarks()
	if err != nil {
		log.Fatalf("Failed to read job watermarks: %v", err)
	}
	log.Printf("Database initialized at %s (resume points for %d jobs)", cfg.DBPath, len(marks))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jenkins, err := jenkinsclient.NewClient(ctx, cfg.JenkinsURL, cfg.JenkinsUsername, cfg.JenkinsAPIToken, cfg.JenkinsTimeout())
	if err != nil {
		log.Fatalf("Failed to connect to Jenkins: %v", err)
	}

	analyzer := llm.New(llm.Options{
		Provider:        cfg.LLMProvider,
		Model:           cfg.LLMModel,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
	})

	transports := make(map[domain.Platform]notify.Transport)
	var targets []domain.NotificationTarget
	if cfg.SlackConfigured() {
		transports[domain.PlatformSlack] = slacktransport.New(cfg.SlackBotToken)
		targets = append(targets, domain.NotificationTarget{Platform: domain.PlatformSlack, Channel: cfg.SlackChannelID})
	}
	if cfg.TeamsConfigured() {
		transports[domain.PlatformTeams] = teamstransport.New(cfg.TeamsWebhookURL)
		targets = append(targets, domain.NotificationTarget{Platform: domain.PlatformTeams, Channel: cfg.TeamsWebhookURL, Team: cfg.TeamsTeamID})
	}

	var summaryTarget *domain.NotificationTarget
	if cfg.EnableSummaryChannel {
		summaryTarget = &domain.NotificationTarget{
			Platform: domain.Platform(cfg.SummaryPlatform),
			Channel:  cfg.SummaryChannelID,
		}
	}

	router := notify.NewRouter(transports, targets, summaryTarget, notify.Options{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff(),
		SendTimeout:    cfg.NotifyTimeout(),
	})

	dispatcher := dispatch.New(jenkins, analyzer, dispatch.Options{
		JenkinsTimeout:     cfg.JenkinsTimeout(),
		AnalysisTimeout:    cfg.AnalysisTimeout(),
		MaxAttempts:        cfg.MaxAttempts,
		InitialBackoff:     cfg.RetryInitialBackoff(),
		LogTailKB:          cfg.LogTailKB,
		LogHeadLines:       cfg.LogHeadLines,
		DetailedAnalysis:   cfg.EnableDetailedAnalysis,
		SecurityScan:       cfg.EnableSecurityScan,
		PerformanceMetrics: cfg.EnablePerformanceMetrics,
	})

	rule := filter.New(filter.Params{
		Scope:              filter.ParseScope(cfg.FailureScope),
		Jobs:               cfg.Jobs,
		Branch:             cfg.BranchFilter,
		BranchFilterActive: cfg.EnableBranchFilter,
		RequireResult:      true,
	})

	dedupStore := dedup.New(cfg.DebounceWindow())
	go dedupStore.RunSweeper(ctx)

	pipe := pipeline.New(rule, dedupStore, dispatcher, router, cfg.WorkerCount, cfg.Debug())
	pipe.Start()

	poller, err := ingest.NewPoller(jenkins, store, pipe, ingest.PollerOptions{
		Jobs:     cfg.Jobs,
		Schedule: cfg.PollSchedule,
		Interval: cfg.PollInterval(),
		Timeout:  cfg.JenkinsTimeout(),
		Debug:    cfg.Debug(),
	})
	if err != nil {
		log.Fatalf("Failed to start poller: %v", err)
	}
	go poller.Run(ctx)

	var webhook *ingest.WebhookServer
	if cfg.WebhookConfigured() {
		webhook = ingest.NewWebhookServer(cfg.WebhookAddr, cfg.WebhookSecret, pipe)
		go func() {
			if err := webhook.Start(); err != nil {
				log.Printf("Webhook listener error: %v", err)
			}
		}()
	} else {
		log.Println("Webhook listener disabled (webhook_secret not set)")
	}

	log.Println("Starting Jenkins build watcher...")
	<-ctx.Done()
	log.Println("Shutdown signal received, draining pipeline...")

	// Stop intake first: webhook listener down, poller already stopped
	// by context cancellation.
	if webhook != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := webhook.Shutdown(shutdownCtx); err != nil {
			log.Printf("Webhook shutdown error: %v", err)
		}
		cancel()
	}

	// In-flight work finishes up to its own timeouts; pending
	// notifications are flushed before we exit.
	pipe.Close()
	pipe.Wait()

	log.Printf("Shutdown complete. delivery_failures_total=%d", router.FailureCount())
}

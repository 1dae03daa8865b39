package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	slacklib "github.com/slack-go/slack"

	"github.com/justmike1/promptops/ci"
	"github.com/justmike1/promptops/commands"
	"github.com/justmike1/promptops/config"
	"github.com/justmike1/promptops/dialogflow"
	"github.com/justmike1/promptops/github"
	"github.com/justmike1/promptops/gitlab"
	"github.com/justmike1/promptops/replies"
	promptslack "github.com/justmike1/promptops/slack"
	"github.com/justmike1/promptops/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	setupLogging(cfg)

	catalog, err := replies.Load(cfg.RepliesFile)
	if err != nil {
		log.Fatalf("failed to load replies: %v", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	backend, err := newBackend(cfg, httpClient)
	if err != nil {
		log.Fatalf("failed to create CI backend: %v", err)
	}

	// Routing a command waits on chat delivery only through the notify pool,
	// so the two never share slots.
	routePool := worker.New("route", cfg.WorkerLimit, 3*cfg.HTTPTimeout)
	notifyPool := worker.New("notify", cfg.WorkerLimit, cfg.HTTPTimeout)

	slackOpts := []slacklib.Option{slacklib.OptionHTTPClient(httpClient)}
	if cfg.SlackAPIURL != "" {
		slackOpts = append(slackOpts, slacklib.OptionAPIURL(strings.TrimRight(cfg.SlackAPIURL, "/")+"/"))
	}
	slackClient := promptslack.NewClient(cfg.SlackBotToken, notifyPool, slackOpts...)

	var detector commands.IntentDetector
	if cfg.DialogflowConfigured() {
		detector = dialogflow.NewClient(cfg.DialogflowProjectID, cfg.DialogflowAccessToken, httpClient)
		log.WithField("project", cfg.DialogflowProjectID).Info("Dialogflow fallback enabled")
	}

	router := commands.NewRouter(ci.NewClient(backend), slackClient, detector, catalog)

	mux := http.NewServeMux()
	mux.Handle("/slack/events", promptslack.NewHandler(cfg.SlackSigningSecret, router, routePool))

	webhook := ipWhitelist(cfg.WebhookAllowedCIDRs, cfg.TrustedProxyCIDRs, dialogflow.NewWebhook(router))
	mux.Handle("/dialogflow/webhook", webhook)
	mux.Handle("/dialogflow/events", webhook)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           chain(mux, requestID, recovery, accessLog),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SocketMode() {
		botUserID, err := slackClient.GetBotUserID(ctx)
		if err != nil {
			log.WithError(err).Warn("could not resolve bot user ID, self-messages are filtered by bot_id only")
		}
		listener := promptslack.NewSocketListener(cfg.SlackAppToken, cfg.SlackBotToken, botUserID, router, routePool, slackOpts...)
		go func() {
			if err := listener.Run(ctx); err != nil {
				log.WithError(err).Error("socket mode listener stopped")
			}
		}()
	}

	go func() {
		log.WithFields(log.Fields{
			"port":     cfg.Port,
			"provider": cfg.CIProvider,
		}).Info("promptops server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}

	// Routed commands enqueue chat messages, so drain them first.
	routePool.Close()
	notifyPool.Close()
	log.Info("shutdown complete")
}

func newBackend(cfg *config.Config, httpClient *http.Client) (ci.Backend, error) {
	switch cfg.CIProvider {
	case config.ProviderGitHub:
		if cfg.GitHubTriggerToken == "" {
			log.Warn("GITHUB_TRIGGER_TOKEN is not set, pipeline triggers are disabled")
		}
		return github.NewClient(cfg.GitHubToken, cfg.GitHubTriggerToken, cfg.GitHubRepository, cfg.GitHubWorkflow, httpClient)
	default:
		if cfg.GitLabTriggerToken == "" {
			log.Warn("GITLAB_TRIGGER_TOKEN is not set, pipeline triggers are disabled")
		}
		return gitlab.NewClient(cfg.GitLabURL, cfg.GitLabProjectID, cfg.GitLabToken, cfg.GitLabTriggerToken, httpClient)
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

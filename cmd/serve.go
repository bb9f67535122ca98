package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"retailcrm/internal/config"
	"retailcrm/internal/entities"
	"retailcrm/internal/infrastructure"
	"retailcrm/internal/interfaces"
	api "retailcrm/internal/interfaces/http"
	"retailcrm/internal/repository"
	"retailcrm/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 15 * time.Second
	taskTimeout     = 2 * time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, webhook receiver and reply scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	pg, err := infrastructure.NewPostgresClient(ctx, infrastructure.PostgresOptions{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.MaxConns,
		MinConns: cfg.Postgres.MinConns,
	})
	if err != nil {
		return err
	}
	defer pg.Close()
	logger.Info().Msg("connected to postgres")

	orgRepo := repository.NewOrganizationRepository(pg.Pool)
	userRepo := repository.NewUserRepository(pg.Pool)
	connRepo := repository.NewConnectionRepository(pg.Pool)
	clientRepo := repository.NewClientRepository(pg.Pool)
	chatRepo := repository.NewChatRepository(pg.Pool)
	serviceRepo := repository.NewServiceRepository(pg.Pool)
	messageRepo := repository.NewMessageRepository(pg.Pool)
	usageRepo := repository.NewUsageRepository(pg.Pool)
	settingsRepo := repository.NewConfigRepository(pg.Pool)

	runner := infrastructure.NewTaskRunner(logger)
	hub := infrastructure.NewRealtimeHub(logger)

	// The whatsmeow sink is bound before the processor exists; sessions only
	// start after the processor is assigned.
	var processor *usecases.WebhookProcessor
	var messenger interfaces.Messenger
	var waManager *infrastructure.WhatsAppManager
	gatewayHTTP := infrastructure.NewGatewayClient(infrastructure.GatewayOptions{
		BaseURL:  cfg.Gateway.BaseURL,
		APIKey:   cfg.Gateway.APIKey,
		MaxBytes: cfg.Media.MaxBytes,
	}, logger)
	fetcher := infrastructure.MediaRouter{HTTP: gatewayHTTP}

	switch cfg.Gateway.Driver {
	case "whatsmeow":
		waManager, err = infrastructure.NewWhatsAppManager(cfg.Gateway.DevicesDir, func(evt entities.GatewayEvent) {
			runner.Go("whatsmeow", func(ctx context.Context) {
				if err := processor.Handle(ctx, evt); err != nil {
					logger.Error().Err(err).Msg("whatsmeow event failed")
				}
			})
		}, logger)
		if err != nil {
			return err
		}
		messenger = waManager
		fetcher.WhatsMeow = waManager
	default:
		messenger = gatewayHTTP
	}

	throttle := infrastructure.NewSendThrottle(cfg.Gateway.SendRate, cfg.Gateway.SendBurst)
	go throttle.Run(ctx, time.Minute)

	blobs, err := infrastructure.NewLocalBlobStore(cfg.Media.StorageDir, cfg.Media.PublicPath)
	if err != nil {
		return err
	}

	var ai interfaces.AIClient
	var enrichers map[entities.MessageType]interfaces.Enricher
	if cfg.OpenAI.Enabled() {
		client := infrastructure.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		ai = infrastructure.NewOpenAIResponder(client, cfg.OpenAI.ChatModel, logger)
		enrichers = infrastructure.NewOpenAIEnrichers(client, cfg.OpenAI.ChatModel, cfg.OpenAI.VisionModel, cfg.OpenAI.TranscriptionModel)
	} else {
		logger.Warn().Msg("openai disabled: no automated replies or media enrichment")
	}

	var notifier interfaces.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := infrastructure.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifier = tg
	}

	ledger := usecases.NewLedger(chatRepo, messageRepo, hub, logger).TrackUsage(usageRepo)
	dispatcher := usecases.NewDispatcher(ledger, messenger, throttle, logger)
	directory := usecases.NewDirectory(clientRepo, chatRepo, serviceRepo, logger)
	media := usecases.NewMediaPipeline(fetcher, blobs, enrichers, ledger, runner, usecases.MediaPipelineOptions{
		MaxBytes: cfg.Media.MaxBytes,
		Attempts: cfg.Media.EnrichAttempts,
	}, logger)
	scheduler := usecases.NewScheduler(chatRepo, serviceRepo, connRepo, messageRepo, ai, dispatcher, notifier, hub, runner, usecases.SchedulerOptions{
		Delay:         cfg.Scheduler.DebounceDelay.Duration,
		HistoryWindow: cfg.Scheduler.HistoryWindow,
	}, logger).UseSettings(settingsRepo)
	processor = usecases.NewWebhookProcessor(connRepo, messageRepo, directory, ledger, media, scheduler, logger)

	auth := usecases.NewAuthUsecase(userRepo, orgRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	inbox := usecases.NewInbox(chatRepo, connRepo, ledger, dispatcher)
	pages := usecases.NewPagination(connRepo, chatRepo, messageRepo)
	ownership := usecases.NewOwnership(chatRepo, serviceRepo, connRepo, hub, logger)

	router := infrastructure.NewTaskRouter()
	router.Register(usecases.TaskGatewayEvent, processor.HandleTask)

	var queue interfaces.TaskQueue
	var amqpQueue *infrastructure.AMQPQueue
	switch cfg.Queue.Driver {
	case "amqp":
		amqpQueue, err = infrastructure.NewAMQPQueue(infrastructure.AMQPOptions{
			URL:      cfg.Queue.AMQPURL,
			Queue:    cfg.Queue.Name,
			Prefetch: cfg.Queue.Prefetch,
			Timeout:  taskTimeout,
		}, router, logger)
		if err != nil {
			return err
		}
		defer amqpQueue.Close()
		runner.Go("amqp-consumer", func(ctx context.Context) {
			if err := amqpQueue.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("amqp consumer stopped")
			}
		})
		queue = amqpQueue
	default:
		queue = infrastructure.NewInProcessQueue(runner, router, taskTimeout, logger)
	}

	sweeper := usecases.NewSweeper(chatRepo, scheduler, usecases.SweeperOptions{
		Spec:        cfg.Scheduler.SweepSpec,
		Grace:       cfg.Scheduler.SweepGrace.Duration,
		MaxTokenAge: cfg.Scheduler.MaxTokenAge.Duration,
	}, logger)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	deps := api.Deps{
		Auth:      auth,
		Pages:     pages,
		Inbox:     inbox,
		Ownership: ownership,
		Usage:     usecases.NewDashboard(usageRepo),
		Settings:  usecases.NewSettings(settingsRepo),
		Stream:    hub,
		Webhook:   api.NewWebhookHandler(cfg.Gateway.WebhookSecret, queue, runner, logger),
		MediaDir:  blobs.Root(),
		MediaPath: cfg.Media.PublicPath,
		Logger:    logger,
	}
	if waManager != nil {
		deps.Sessions = waManager
		conns, err := connRepo.List(ctx)
		if err != nil {
			return err
		}
		waManager.Restore(ctx, conns)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(logger))
	api.SetupRoutes(r, deps, api.NewMiddleware(auth))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("gateway", cfg.Gateway.Driver).Str("queue", cfg.Queue.Driver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	sweeper.Stop()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("background tasks did not finish")
	}
	if waManager != nil {
		waManager.DisconnectAll()
	}
	logger.Info().Msg("stopped")
	return nil
}

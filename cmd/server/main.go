package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"teamplan/internal/access"
	"teamplan/internal/api"
	"teamplan/internal/audit"
	"teamplan/internal/config"
	"teamplan/internal/conflict"
	"teamplan/internal/database"
	"teamplan/internal/events"
	"teamplan/internal/google"
	"teamplan/internal/metrics"
	"teamplan/internal/negotiation"
	"teamplan/internal/notify"
	"teamplan/internal/repository"
	"teamplan/internal/service"
	"teamplan/internal/slots"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("TEAMPLAN_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	accessSvc := access.NewService(db, logger)
	detector := conflict.NewDetector(db, db)

	coordinator := negotiation.NewCoordinator(db, accessSvc, detector, bus, db, database.IsTransient, &logger)
	scheduleSvc := service.NewScheduleService(db, accessSvc, detector, bus, cfg.MinAdvance(), cfg.MaxAdvance(), &logger)
	slotGen := slots.NewGenerator(db)

	// The notification feed reads from Redis when configured and falls
	// back to SQLite when Redis is unreachable.
	var feed api.NotificationFeed = db
	var rdb *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cached := repository.NewRedisFeed(rdb, db, cfg.FeedTTL(), &logger)
		failover := repository.NewFailoverFeed(cached, db, &logger)
		feed = failover
		subscribeFeedInvalidation(bus, db, failover, &logger)
	}

	var botAPI *tgbotapi.BotAPI
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		botAPI.Debug = cfg.Telegram.Debug
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	if botAPI != nil {
		rlCfg := notify.DefaultRateLimiterConfig()
		if cfg.Notify.MessagesPerSecond > 0 {
			rlCfg.Rate = cfg.Notify.MessagesPerSecond
		}
		if cfg.Notify.Burst > 0 {
			rlCfg.Burst = cfg.Notify.Burst
		}

		var deliveryMetrics *notify.Metrics
		if cfg.Monitoring.PrometheusEnabled {
			deliveryMetrics = notify.NewMetrics("teamplan")
		}

		delivery := notify.NewService(
			&notify.Config{
				CheckInterval: cfg.NotifyInterval(),
				MaxConcurrent: cfg.Notify.MaxConcurrent,
			},
			db,
			notify.NewTelegramSender(botAPI),
			notify.NewRateLimiter(rlCfg),
			deliveryMetrics,
			&logger,
		)
		delivery.Start()
		defer delivery.Stop()
	}

	if cfg.Audit.Enabled {
		var notifier audit.Notifier
		if botAPI != nil && len(cfg.Audit.ReportChatIDs) > 0 {
			notifier = audit.NewTelegramNotifier(botAPI, cfg.Audit.ReportChatIDs)
		}
		auditSvc := audit.NewService(
			&audit.Config{
				DataRetentionDays: cfg.Audit.DataRetentionDays,
				ExportOnStart:     cfg.Audit.ExportOnStart,
			},
			db, audit.NewExcelizeWriter, notifier, db, &logger,
		)
		auditSvc.Start()
		defer auditSvc.Stop()
	}

	if cfg.Sheets.Enabled {
		sheetsSvc, err := google.NewSheetsService(ctx, cfg.Sheets.CredentialsPath, cfg.Sheets.SpreadsheetID, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("sheets export disabled")
		} else {
			subscribeSheetsSync(bus, db, sheetsSvc, &logger)
		}
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backup.Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	startHour, endHour := cfg.DayWindow()
	apiCfg := api.Config{
		APIKeys:       cfg.Server.APIKeys,
		RatePerMinute: cfg.Server.RateLimitPerMinute,
		RateBurst:     cfg.Server.RateBurst,
		SlotWindow: slots.Window{
			StartHour: startHour,
			EndHour:   endHour,
			SlotSize:  cfg.SlotSize(),
		},
	}
	handler := api.NewHTTPServer(apiCfg, coordinator, scheduleSvc, db, db, slotGen, feed, &logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort()),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.ServerPort()).Msg("teamplan server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

// subscribeFeedInvalidation drops cached notification feeds for everyone
// on the schedule whenever a request resolves or gets acknowledged.
func subscribeFeedInvalidation(bus *events.EventBus, db *database.DB, inv repository.Invalidator, logger *zerolog.Logger) {
	handler := func(event events.Event) error {
		var payload negotiation.RequestEvent
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sched, err := db.GetSchedule(ctx, payload.ScheduleID)
		if err != nil {
			return err
		}
		participants, err := db.ListParticipants(ctx, payload.ScheduleID)
		if err != nil {
			return err
		}

		ids := []int64{sched.CreatorID}
		for _, p := range participants {
			if p.UserID != sched.CreatorID {
				ids = append(ids, p.UserID)
			}
		}

		if err := inv.Invalidate(ctx, ids...); err != nil {
			logger.Warn().Err(err).Str("request_id", payload.RequestID).Msg("feed invalidation failed")
		}
		return nil
	}

	bus.Subscribe(events.RequestApproved, handler)
	bus.Subscribe(events.RequestRejected, handler)
	bus.Subscribe(events.RequestAcknowledged, handler)
}

// subscribeSheetsSync mirrors request lifecycle changes into the
// spreadsheet log.
func subscribeSheetsSync(bus *events.EventBus, db *database.DB, sheetsSvc *google.SheetsService, logger *zerolog.Logger) {
	handler := func(event events.Event) error {
		var payload negotiation.RequestEvent
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		req, err := db.GetChangeRequest(ctx, payload.RequestID)
		if err != nil {
			return err
		}
		if err := sheetsSvc.UpsertChangeRequest(ctx, req); err != nil {
			logger.Warn().Err(err).Str("request_id", payload.RequestID).Msg("sheets sync failed")
		}
		return nil
	}

	bus.Subscribe(events.RequestCreated, handler)
	bus.Subscribe(events.RequestApproved, handler)
	bus.Subscribe(events.RequestRejected, handler)
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"referralbot/internal/bot"
	"referralbot/internal/config"
	"referralbot/internal/journal"
	"referralbot/internal/journal/ch"
	"referralbot/internal/session"
	"referralbot/internal/storage"
	"referralbot/internal/storage/pg"
	"referralbot/internal/storage/stubs"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	db       storage.Storage
	sessions session.Store
	journal  journal.Journal
	bot      *bot.Bot
	server   *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting referral campaign bot",
		zap.Bool("webhook_mode", cfg.WebhookMode),
		zap.Bool("debug", cfg.Debug),
	)

	ctx := context.Background()

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	if err := app.initSessions(ctx); err != nil {
		return nil, err
	}

	if err := app.initJournal(ctx); err != nil {
		return nil, err
	}

	if err := app.initBot(); err != nil {
		return nil, err
	}

	app.initHTTPServer()

	return app, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	gin.SetMode(gin.ReleaseMode)
	return zap.NewProduction()
}

// initDatabase opens the participant store
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to Postgres",
			zap.Int32("max_conns", a.config.DatabaseMaxConns),
			zap.Bool("auto_migrate", a.config.AutoMigrate),
		)
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.DatabaseURL, a.config.DatabaseMaxConns, a.config.AutoMigrate)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		db = postgresDB
	}

	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initSessions picks Redis when configured, memory otherwise
func (a *App) initSessions(ctx context.Context) error {
	if a.config.Redis.Addr == "" {
		a.logger.Info("Operator sessions kept in memory")
		a.sessions = session.NewMemory()
		return nil
	}

	a.logger.Info("Connecting to Redis", zap.String("addr", a.config.Redis.Addr), zap.Int("db", a.config.Redis.DB))
	store, err := session.OpenRedis(ctx, a.config.Redis.Addr, a.config.Redis.Password, a.config.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.sessions = store
	return nil
}

// initJournal picks ClickHouse when configured, memory otherwise
func (a *App) initJournal(ctx context.Context) error {
	chCfg := a.config.ClickHouse
	if chCfg.Host == "" {
		a.logger.Info("Event journal kept in memory")
		a.journal = journal.NewMemory(journal.DefaultMemoryCapacity)
		return nil
	}

	a.logger.Info("Connecting to ClickHouse",
		zap.String("host", chCfg.Host),
		zap.Int("port", chCfg.Port),
		zap.String("database", chCfg.Database),
		zap.Bool("tls", chCfg.UseTLS),
	)
	j, err := ch.NewClickHouseJournal(chCfg.Host, chCfg.Port, chCfg.Database, chCfg.User, chCfg.Password, chCfg.UseTLS)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := j.Initialize(ctx); err != nil {
		_ = j.Close()
		return fmt.Errorf("failed to initialize ClickHouse journal: %w", err)
	}
	a.journal = j
	return nil
}

// initBot initializes the Telegram bot
func (a *App) initBot() error {
	settings := bot.Settings{
		OperatorPassword:         a.config.OperatorPassword,
		OperatorChatID:           a.config.OperatorChatID,
		CommunityChatID:          a.config.Campaign.CommunityChatID,
		CommunityURL:             a.config.Campaign.CommunityURL,
		XURL:                     a.config.Campaign.XURL,
		SignupURL:                a.config.Campaign.SignupURL,
		MinLocalCoinSwapIDLength: a.config.Campaign.MinLocalCoinSwapIDLength,
	}

	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.db, a.sessions, a.journal, settings, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created successfully", zap.String("username", telegramBot.Username()))

	a.bot = telegramBot
	return nil
}

// initHTTPServer serves the webhook, health and broadcast endpoints
func (a *App) initHTTPServer() {
	handler := bot.NewHTTPServer(a.bot, a.config.TelegramToken, a.config.BroadcastAPIKey, a.config.WebhookMode)

	a.server = &http.Server{
		Addr:         ":" + strconv.Itoa(a.config.Port),
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		a.logger.Info("Starting HTTP server", zap.Int("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pollErr := make(chan error, 1)

	if a.config.WebhookMode {
		if err := a.bot.StartWebhook(a.config.WebhookURL()); err != nil {
			return errors.Join(fmt.Errorf("failed to setup webhook: %w", err), a.Shutdown())
		}
		a.logger.Info("Webhook configured, waiting for updates over HTTP")
	} else {
		go func() {
			pollErr <- a.bot.Start(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-pollErr:
		if err != nil {
			runErr = fmt.Errorf("polling stopped: %w", err)
		}
	}

	a.logger.Info("Shutting down...")
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	defer func() { _ = a.logger.Sync() }()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
		errs = append(errs, err)
	}

	if err := a.sessions.Close(); err != nil {
		a.logger.Error("Error closing session store", zap.Error(err))
		errs = append(errs, err)
	}

	if err := a.journal.Close(); err != nil {
		a.logger.Error("Error closing journal", zap.Error(err))
		errs = append(errs, err)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		errs = append(errs, err)
	}

	a.logger.Info("Shutdown complete")
	return errors.Join(errs...)
}

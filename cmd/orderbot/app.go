package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/classifier"
	"github.com/tbourn/go-order-bot/internal/config"
	"github.com/tbourn/go-order-bot/internal/dynamostore"
	httpapi "github.com/tbourn/go-order-bot/internal/http"
	"github.com/tbourn/go-order-bot/internal/observability"
	"github.com/tbourn/go-order-bot/internal/panel"
	"github.com/tbourn/go-order-bot/internal/repo"
	"github.com/tbourn/go-order-bot/internal/routing"
	"github.com/tbourn/go-order-bot/internal/secrets"
	"github.com/tbourn/go-order-bot/internal/services"
	"github.com/tbourn/go-order-bot/internal/transport/matrix"
)

const shutdownTimeout = 10 * time.Second

// app owns every long-lived component of the process.
type app struct {
	cfg          config.Config
	db           *gorm.DB
	server       *http.Server
	transport    *matrix.Transport
	janitor      *janitor
	shutdownOTel func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a := &app{cfg: cfg, shutdownOTel: shutdownOTel}

	a.db, err = repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(a.db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var awsCfg aws.Config
	if cfg.Secrets.Enabled() || cfg.CooldownStore == config.StoreDynamoDB {
		if awsCfg, err = awsconfig.LoadDefaultConfig(ctx); err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
	}

	panelKey, openAIKey := cfg.Panel.APIKey, cfg.Classifier.APIKey
	if cfg.Secrets.Enabled() {
		store, err := secrets.NewSSM(ssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		if panelKey, err = secrets.Resolve(ctx, store, cfg.Secrets.PanelAPIKeyParam, panelKey); err != nil {
			return nil, fmt.Errorf("resolve panel api key: %w", err)
		}
		if openAIKey, err = secrets.Resolve(ctx, store, cfg.Secrets.OpenAIAPIKeyParam, openAIKey); err != nil {
			return nil, fmt.Errorf("resolve openai api key: %w", err)
		}
	}

	sessions := sessionStore(cfg, a.db)
	cooldowns, pruneCooldowns, err := cooldownStore(cfg, a.db, awsCfg)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Bot.BackendTimezone)
	if err != nil {
		return nil, fmt.Errorf("backend timezone: %w", err)
	}
	backend := panel.New(cfg.Panel.BaseURL, cfg.Panel.AdminBaseURL, panelKey,
		panel.WithHTTPClient(&http.Client{Timeout: cfg.Panel.Timeout}),
		panel.WithLocation(loc),
	)

	metrics := observability.NewBotMetrics(prometheus.DefaultRegisterer)

	var fallback services.FallbackClassifier
	if cfg.Classifier.Enabled {
		completer, err := classifier.NewOpenAI(classifier.StaticKey(openAIKey),
			classifier.WithBaseURL(cfg.Classifier.BaseURL),
			classifier.WithModel(cfg.Classifier.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		adapter, err := classifier.NewAdapter(completer,
			classifier.WithMinConfidence(cfg.Classifier.MinConfidence),
			classifier.WithTimeout(cfg.Classifier.Timeout),
			classifier.WithObserver(metrics.ClassifierOutcome),
		)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		fallback = adapter
	}

	dir, err := routing.LoadDirectory(cfg.Bot.ProviderDirectory, cfg.Bot.SupportChannel)
	if err != nil {
		return nil, fmt.Errorf("provider directory: %w", err)
	}
	log.Info().Int("providers", dir.Len()).Str("support", dir.Support()).Msg("provider directory loaded")

	// The router needs a sender before the Matrix transport, which needs the
	// assistant, exists. The closure resolves the transport at send time.
	var (
		sender routing.Sender
		outbox *repo.Outbox
	)
	if cfg.Transport == config.TransportMatrix {
		sender = routing.SenderFunc(func(ctx context.Context, channelID, text string) error {
			if a.transport == nil {
				return errors.New("matrix transport not started")
			}
			return a.transport.Send(ctx, channelID, text)
		})
	} else {
		outbox = repo.NewOutbox(a.db, dir.Support())
		sender = outbox
	}
	router := routing.NewRouter(dir, sender)

	replies := services.Replies{
		SiteURL:        cfg.Bot.SiteURL,
		SupportContact: cfg.Bot.SupportContact,
		CooldownWindow: cfg.Bot.CooldownWindow,
		MaxOrderIDs:    cfg.Bot.MaxOrderIDs,
	}
	auth := services.NewAuthService(backend, replies, cfg.Bot.TriggerWord)
	orders := services.NewOrderService(backend, cooldowns, router, replies)
	orders.Window = cfg.Bot.CooldownWindow
	orders.MaxOrderIDs = cfg.Bot.MaxOrderIDs
	assistant := services.NewAssistant(sessions, auth, orders, backend, nil, fallback, dir, replies)
	metrics.Attach(assistant, auth, orders, router)

	if cfg.Transport == config.TransportMatrix {
		a.transport, err = matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
		}, assistant)
		if err != nil {
			return nil, err
		}
	}

	deps := httpapi.Deps{Assistant: assistant, DB: a.db}
	if outbox != nil {
		deps.Outbox = outbox
	}
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, deps, cfg)

	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	sweeps := []sweep{{name: "receipts", run: func(ctx context.Context, now time.Time) (int64, error) {
		return repo.PruneReceipts(ctx, a.db, now)
	}}}
	if pruneCooldowns != nil {
		window := cfg.Bot.CooldownWindow
		sweeps = append(sweeps, sweep{name: "cooldowns", run: func(ctx context.Context, now time.Time) (int64, error) {
			return pruneCooldowns(ctx, now.Add(-window))
		}})
	}
	if outbox != nil {
		sweeps = append(sweeps, sweep{name: "outbox", run: func(ctx context.Context, now time.Time) (int64, error) {
			return outbox.PruneDelivered(ctx, now.Add(-outboxRetention))
		}})
	}
	a.janitor = newJanitor(janitorInterval, sweeps...)

	return a, nil
}

func sessionStore(cfg config.Config, db *gorm.DB) services.SessionStore {
	if cfg.SessionStore == config.StoreSQLite {
		return repo.NewSessionStore(db)
	}
	return repo.NewMemorySessionStore()
}

// cooldownStore returns the configured store and, for local backends, its
// prune function. DynamoDB expires rows through its own TTL attribute.
func cooldownStore(cfg config.Config, db *gorm.DB, awsCfg aws.Config) (services.CooldownStore, func(context.Context, time.Time) (int64, error), error) {
	switch cfg.CooldownStore {
	case config.StoreSQLite:
		s := repo.NewCooldownStore(db)
		return s, s.Prune, nil
	case config.StoreDynamoDB:
		s, err := dynamostore.New(dynamodb.NewFromConfig(awsCfg), cfg.CooldownTable,
			cfg.Bot.CooldownWindow+dynamostore.DefaultRetention)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamodb cooldowns: %w", err)
		}
		return s, nil, nil
	default:
		s := repo.NewMemoryCooldownStore()
		return s, s.Prune, nil
	}
}

// run serves until ctx is cancelled or the listener fails, then shuts every
// component down.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.transport != nil {
		if err := a.transport.Start(ctx); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
	}
	go a.janitor.loop(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.server.Addr).Str("transport", a.cfg.Transport).Msg("orderbot listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-serveErr:
	}
	cancel()
	return errors.Join(runErr, a.shutdown())
}

func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.transport != nil {
		a.transport.Stop()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := a.shutdownOTel(ctx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}
	return errors.Join(errs...)
}

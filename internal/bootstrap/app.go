// Package bootstrap собирает приложение из конфигурации: хранилища, кэш,
// AI-провайдер, движок прогресса, обработчики команд и запросов, шину событий.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studyforge/studyplanner/config"
	"github.com/studyforge/studyplanner/internal/application/command"
	"github.com/studyforge/studyplanner/internal/application/eventhandler"
	"github.com/studyforge/studyplanner/internal/application/planning"
	"github.com/studyforge/studyplanner/internal/application/query"
	"github.com/studyforge/studyplanner/internal/domain/mastery"
	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/internal/domain/progression"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/internal/infrastructure/ai"
	"github.com/studyforge/studyplanner/internal/infrastructure/catalog"
	"github.com/studyforge/studyplanner/internal/infrastructure/messaging"
	"github.com/studyforge/studyplanner/internal/infrastructure/persistence/memory"
	"github.com/studyforge/studyplanner/internal/infrastructure/persistence/postgres"
	redisstore "github.com/studyforge/studyplanner/internal/infrastructure/persistence/redis"
	"github.com/studyforge/studyplanner/pkg/circuitbreaker"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/retry"
)

// App - собранное приложение.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	// Хранилища
	DB           *postgres.Connection
	Redis        *goredis.Client
	PlanRepo     plan.Repository
	ProgressRepo progression.Repository
	MasteryRepo  mastery.Repository
	Cache        progression.Cache

	// События
	Bus        *messaging.InMemoryEventBus
	Dispatcher *messaging.Dispatcher

	// Приложение
	Provider            planning.AIProvider
	Synthesizer         *planning.Synthesizer
	SynthesizePlan      *command.SynthesizePlanHandler
	RecordStudyEvent    *command.RecordStudyEventHandler
	UpdateSessionStatus *command.UpdateSessionStatusHandler
	GetProgression      *query.GetProgressionHandler
	Plans               *query.PlanHandler
	Notifications       *eventhandler.NotificationHandler

	closers []func()
}

// Option настраивает сборку (в основном для тестов).
type Option func(*options)

type options struct {
	provider    planning.AIProvider
	redisClient *goredis.Client
}

// WithAIProvider подменяет провайдер из конфигурации.
func WithAIProvider(p planning.AIProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithRedisClient использует готовый клиент вместо подключения по конфигурации.
func WithRedisClient(c *goredis.Client) Option {
	return func(o *options) { o.redisClient = c }
}

// New собирает приложение. Close освобождает ресурсы.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (app *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.Nop()
	}

	app = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩА (PostgreSQL или память)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.UsePostgres() {
		pg := postgres.DefaultConfig()
		pg.URL = cfg.Database.URL
		pg.MaxConns = int32(cfg.Database.MaxConns)
		pg.MinConns = int32(cfg.Database.MinConns)
		pg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		retrier := retry.DatabaseRetrier(retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("database not ready, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}))
		err = retrier.Do(ctx, func(ctx context.Context) error {
			conn, err := postgres.NewConnection(ctx, pg)
			if err != nil {
				return err
			}
			app.DB = conn
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		app.closers = append(app.closers, app.DB.Close)

		app.PlanRepo = postgres.NewPlanRepository(app.DB)
		app.ProgressRepo = postgres.NewProgressionRepository(app.DB)
		app.MasteryRepo = postgres.NewMasteryRepository(app.DB)
		log.Info("using postgres repositories")
	} else {
		app.PlanRepo = memory.NewPlanRepository()
		app.ProgressRepo = memory.NewProgressionRepository()
		app.MasteryRepo = memory.NewMasteryRepository()
		log.Info("using in-memory repositories")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (кэш, блокировка, pub/sub) - опционально
	// ─────────────────────────────────────────────────────────────────────────
	var lock command.DistributedLock
	switch {
	case o.redisClient != nil:
		app.Redis = o.redisClient
	case cfg.UseRedis():
		rc := redisstore.DefaultConfig()
		rc.URL = cfg.Redis.URL
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.PoolSize = cfg.Redis.PoolSize
		rc.MinIdleConns = cfg.Redis.MinIdleConns
		rc.DialTimeout = cfg.Redis.DialTimeout

		cache, err := redisstore.NewCache(rc)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.Redis = cache.Client()
		app.closers = append(app.closers, func() { _ = cache.Close() })
	}

	if app.Redis != nil {
		app.Cache = redisstore.NewProgressionCache(redisstore.NewCacheFromClient(app.Redis), cfg.Redis.CacheTTL)
		lock = redisstore.NewUserLock(app.Redis)
		log.Info("redis cache and user lock enabled")
	} else {
		app.Cache = memory.NewProgressionCache()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ШИНА СОБЫТИЙ И ДИСПЕТЧЕР
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	app.Bus = messaging.NewInMemoryEventBus(busCfg)
	app.closers = append(app.closers, func() { _ = app.Bus.Close() })

	dispCfg := messaging.DefaultDispatcherConfig()
	dispCfg.Logger = log
	app.Dispatcher = messaging.NewDispatcher(dispCfg)
	app.Dispatcher.Use(messaging.RecoveryMiddleware(log))
	app.Dispatcher.Use(messaging.LoggingMiddleware(log))

	if err := app.wireNotifications(); err != nil {
		return nil, err
	}
	if err := app.Dispatcher.Start(app.Bus); err != nil {
		return nil, fmt.Errorf("start dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ДВИЖОК ПРОГРЕССА
	// ─────────────────────────────────────────────────────────────────────────
	cat, err := catalog.Load(cfg.Progression.CatalogFile)
	if err != nil {
		return nil, err
	}

	masteryCfg := mastery.DefaultConfig()
	masteryCfg.DecayPerEvent = cfg.Progression.MasteryDecayPerEvent

	engineCfg := progression.DefaultConfig()
	engineCfg.Location = cfg.App.Location
	engineCfg.Catalog = cat
	engineCfg.QuestsEnabled = cfg.Features.IsEnabled(config.FeatureProgressionQuests, nil)
	engineCfg.BadgesEnabled = cfg.Features.IsEnabled(config.FeatureProgressionBadges, nil)
	engineCfg.CompanionEnabled = cfg.Features.IsEnabled(config.FeatureProgressionCompanion, nil)
	engine := progression.NewEngine(engineCfg, mastery.NewTracker(masteryCfg))

	recordOpts := []command.RecordStudyEventOption{command.WithProgressionCache(app.Cache)}
	if lock != nil {
		recordOpts = append(recordOpts, command.WithDistributedLock(lock))
	}
	app.RecordStudyEvent = command.NewRecordStudyEventHandler(
		app.ProgressRepo, app.MasteryRepo, engine, app.Bus, log,
		command.RecordStudyEventConfig{CASAttempts: cfg.Progression.CASAttempts, LockTTL: cfg.Progression.LockTTL},
		recordOpts...,
	)
	app.GetProgression = query.NewGetProgressionHandler(app.ProgressRepo, app.MasteryRepo, app.Cache, cfg.App.Location, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПЛАНИРОВЩИК (AI + локальный)
	// ─────────────────────────────────────────────────────────────────────────
	provider := o.provider
	if provider == nil {
		provider, err = newProvider(ctx, cfg.AI, log)
		if err != nil {
			return nil, err
		}
	}

	schedCfg := plan.DefaultSchedulerConfig()
	schedCfg.MaxRepeatCount = cfg.Planner.MaxRepeatCount
	if len(cfg.Planner.DefaultSubjects) > 0 {
		schedCfg.DefaultSubjects = cfg.Planner.DefaultSubjects
	}

	synthCfg := planning.DefaultConfig()
	synthCfg.AIEnabled = provider != nil && cfg.Features.IsEnabled(config.FeaturePlannerAIGeneration, nil)
	synthCfg.AITimeout = cfg.AI.StreamTimeout
	synthCfg.MaxCandidateBytes = cfg.Planner.ExtractorBufferLimit
	app.Provider = provider
	app.Synthesizer = planning.NewSynthesizer(provider, plan.NewLocalScheduler(schedCfg), synthCfg, log)

	app.SynthesizePlan = command.NewSynthesizePlanHandler(app.Synthesizer, app.PlanRepo, app.MasteryRepo, app.Bus, log,
		command.SynthesizePlanConfig{Location: cfg.App.Location})
	app.UpdateSessionStatus = command.NewUpdateSessionStatusHandler(app.PlanRepo, app.RecordStudyEvent, app.Bus, log)
	app.Plans = query.NewPlanHandler(app.PlanRepo)

	return app, nil
}

// wireNotifications подписывает обработчик уведомлений на диспетчер.
// Пересылка в Redis включается флагом notify.redis_pubsub.
func (a *App) wireNotifications() error {
	forward := a.Redis != nil && a.Config.Features.IsEnabled(config.FeatureNotifyRedisPubSub, nil)

	var forwarder shared.EventPublisher
	if forward {
		forwarder = messaging.NewRedisPublisher(a.Redis, messaging.RedisPublisherConfig{
			Channel: a.Config.Redis.Channel,
			Logger:  a.Log,
		})
	}

	notifyCfg := eventhandler.DefaultNotificationConfig()
	notifyCfg.Forward = forward
	a.Notifications = eventhandler.NewNotificationHandler(forwarder, a.Log, notifyCfg)

	for _, t := range a.Notifications.EventTypes() {
		err := a.Dispatcher.Register(t, messaging.HandlerRegistration{
			Name:    "notification",
			Handler: a.Notifications.Handle,
		})
		if err != nil {
			return fmt.Errorf("register notification handler: %w", err)
		}
	}
	return nil
}

// newProvider создаёт AI-провайдер из конфигурации, обёрнутый в
// circuit breaker и retry. Для "none" возвращает nil.
func newProvider(ctx context.Context, cfg config.AIConfig, log *logger.Logger) (planning.AIProvider, error) {
	var inner ai.Provider
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err := ai.NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		inner = p
	case config.ProviderOpenAI:
		p, err := ai.NewOpenAIProvider(ai.OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		inner = p
	default:
		return nil, nil
	}

	return ai.NewResilientProvider(inner, ai.ResilientConfig{
		MaxAttempts:      cfg.MaxAttempts,
		FailureThreshold: cfg.BreakerThreshold,
		OpenFor:          cfg.BreakerTimeout,
	}, log), nil
}

// Migrate применяет миграции. Без PostgreSQL ничего не делает.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if a.DB == nil {
		return 0, nil
	}
	return postgres.NewMigrator(a.DB).Migrate(ctx)
}

// Rollback откатывает последнюю применённую миграцию.
func (a *App) Rollback(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return postgres.NewMigrator(a.DB).Rollback(ctx)
}

// MigrationStatus возвращает все миграции с отметкой о применении.
func (a *App) MigrationStatus(ctx context.Context) ([]postgres.Migration, error) {
	if a.DB == nil {
		return nil, nil
	}
	return postgres.NewMigrator(a.DB).Status(ctx)
}

// Status - состояние зависимостей приложения.
type Status struct {
	Storage    string                 `json:"storage"`
	Database   *postgres.HealthStatus `json:"database,omitempty"`
	Redis      string                 `json:"redis"`
	AIProvider string                 `json:"ai_provider"`
	AIEnabled  bool                   `json:"ai_enabled"`
	AIBreaker  string                 `json:"ai_breaker,omitempty"`
	AICounts   *circuitbreaker.Counts `json:"ai_breaker_counts,omitempty"`
	Features   []config.Feature       `json:"features"`
}

// Status проверяет подключения. Ошибки зависимостей попадают в отчёт,
// а не в err.
func (a *App) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Storage:    "memory",
		Redis:      "disabled",
		AIProvider: "none",
		Features:   a.Config.Features.GetAllFeatures(),
	}

	if a.DB != nil {
		st.Storage = "postgres"
		health, err := a.DB.Health(ctx)
		if err != nil {
			return nil, err
		}
		st.Database = health
	}

	if a.Redis != nil {
		st.Redis = "ok"
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			st.Redis = err.Error()
		}
	}

	if a.Provider != nil {
		st.AIProvider = a.Provider.Name()
		st.AIEnabled = a.Config.Features.IsEnabled(config.FeaturePlannerAIGeneration, nil)
		if rp, ok := a.Provider.(*ai.ResilientProvider); ok {
			st.AIBreaker = rp.Breaker().State().String()
			counts := rp.Breaker().Counts()
			st.AICounts = &counts
		}
	}
	return st, nil
}

// Close останавливает диспетчер и освобождает ресурсы в обратном порядке.
// Шина закрывается первой среди ресурсов и дожидается обработчиков.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

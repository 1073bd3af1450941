package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/benefitpay/benefits/internal/balance"
	"github.com/benefitpay/benefits/internal/benefits"
	"github.com/benefitpay/benefits/internal/config"
	"github.com/benefitpay/benefits/internal/journal"
	"github.com/benefitpay/benefits/internal/lock"
	"github.com/benefitpay/benefits/internal/middleware"
	"github.com/benefitpay/benefits/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Journal *journal.Journal
	Logger  *zap.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	store, err := buildStore(d)
	if err != nil {
		return err
	}
	if err := seed(context.Background(), store, d); err != nil {
		return err
	}

	var history benefits.Journal
	if d.Journal != nil {
		history = d.Journal
	}
	svc := benefits.NewService(store, history, notification.NewLoggerNotifier(d.Logger), d.Logger, benefits.Options{
		MaxRetries: d.Cfg.TransferMaxRetries,
		MaxBackoff: d.Cfg.LockTimeout,
	})

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterBenefitRoutes(api, benefits.NewHandler(svc))

	return nil
}

func buildStore(d Deps) (balance.Store, error) {
	var store balance.Store
	if d.DB != nil {
		store = balance.NewPostgresStore(d.DB, d.Cfg.LockTimeout)
	} else {
		store = balance.NewMemoryStore(d.Cfg.LockTimeout)
	}

	if d.Cfg.LockBackend != config.LockBackendRedis {
		return store, nil
	}
	if d.Cache == nil {
		return nil, fmt.Errorf("redis is required when LOCK_BACKEND=%s", config.LockBackendRedis)
	}
	locker, err := lock.NewRedisLocker(d.Cache, lock.RedisOptions{
		Expiry:     d.Cfg.LockExpiry,
		Wait:       d.Cfg.LockTimeout,
		RetryDelay: d.Cfg.LockRetryDelay,
	})
	if err != nil {
		return nil, err
	}
	return balance.NewGuardedStore(store, locker, d.Logger), nil
}

func seed(ctx context.Context, store balance.Store, d Deps) error {
	if d.Cfg.FixturesFile == "" {
		return nil
	}
	fixtures, err := balance.LoadFixturesFile(d.Cfg.FixturesFile)
	if err != nil {
		return fmt.Errorf("load fixtures: %w", err)
	}
	created, err := balance.Seed(ctx, store, fixtures)
	if err != nil {
		return err
	}
	d.Logger.Info("fixtures seeded", zap.String("file", d.Cfg.FixturesFile), zap.Int("created", created))
	return nil
}

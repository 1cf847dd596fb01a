package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const storagePingTimeout = 2 * time.Second

// runtimeDependencies объединяет хранилища, выбранные по Config.StorageDriver.
type runtimeDependencies struct {
	carts         domain.CartRepository
	orders        domain.OrderRepository
	attempts      domain.AttemptRepository
	outbox        domain.OutboxRepository
	notifications domain.NotificationRepository
	prices        domain.PriceResolver

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies создаёт репозитории для выбранного драйвера.
// Для postgres DSN обязателен; memory поднимает in-memory хранилище
// с демонстрационным каталогом цен.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return newMemoryDependencies(), nil
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func newMemoryDependencies() runtimeDependencies {
	return runtimeDependencies{
		carts:         memory.NewCartRepository(),
		orders:        memory.NewOrderRepository(),
		attempts:      memory.NewAttemptRepository(),
		outbox:        memory.NewOutboxRepository(),
		notifications: memory.NewNotificationRepository(),
		prices:        newDemoCatalog(),
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires CHECKOUT_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return runtimeDependencies{}, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("ensure postgres schema: %w", err)
		}
		logger.Info("схема postgres проверена")
	}

	checker := healthcheck.NewPingChecker("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
		defer cancel()
		return store.Ping(pingCtx)
	})

	return runtimeDependencies{
		carts:          postgres.NewCartRepository(store),
		orders:         postgres.NewOrderRepository(store),
		attempts:       postgres.NewAttemptRepository(store),
		outbox:         postgres.NewOutboxRepository(store),
		notifications:  postgres.NewNotificationRepository(store),
		prices:         postgres.NewPriceResolver(store),
		storageChecker: checker,
		closeFn:        store.Close,
	}, nil
}

// newDemoCatalog наполняет mock-резолвер цен небольшим каталогом,
// чтобы in-memory режим работал из коробки.
func newDemoCatalog() domain.PriceResolver {
	resolver := pricing.NewMockResolver()
	resolver.AddProduct(domain.PriceSnapshot{
		ProductID:      "demo-kettle",
		ProductName:    "Чайник",
		UnitPriceMinor: 249900,
		Currency:       "USD",
	})
	resolver.AddProduct(domain.PriceSnapshot{
		ProductID:      "demo-cup",
		ProductName:    "Чашка",
		UnitPriceMinor: 59900,
		Currency:       "USD",
	})
	resolver.AddProduct(domain.PriceSnapshot{
		ProductID:      "demo-cup",
		VariantID:      "blue",
		ProductName:    "Чашка",
		VariantName:    "Синяя",
		UnitPriceMinor: 64900,
		Currency:       "USD",
	})
	return resolver
}

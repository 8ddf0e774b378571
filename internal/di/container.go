package di

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"students-registry/internal/shared/eventbus"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/metrics"
	"students-registry/internal/students"
	studentshttp "students-registry/internal/students/adapter/http"
	"students-registry/internal/students/adapter/persistence/memory"
	"students-registry/internal/students/adapter/persistence/mongodb"
	"students-registry/internal/students/config"
	"students-registry/internal/students/domain/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

// Container represents a dependency injection container with proper lifecycle management
type Container struct {
	mu sync.RWMutex
	// Module instances
	StudentsModule *students.StudentsModule
	// Shared services
	Repository repository.StudentRepository
	EventBus   *eventbus.EventBus
	Metrics    *metrics.Metrics
	// Configuration
	Config *config.Config
	// Loggers
	Logger       logger.Logger
	AccessLogger *zap.Logger

	mongoClient *mongo.Client
	redisClient *redis.Client
	testing     atomic.Bool
}

// NewContainer creates a container for cfg. access may be nil to disable access logging.
func NewContainer(cfg *config.Config, log logger.Logger, access *zap.Logger) *Container {
	if log == nil {
		log = logger.NewNopLogger()
	}
	c := &Container{
		Config:       cfg,
		Logger:       log,
		AccessLogger: access,
		Metrics:      metrics.New(),
		EventBus: eventbus.NewEventBusWithConfig(log.WithComponent("eventbus"), eventbus.BusConfig{
			AsyncProcessing: true,
			MaxRetries:      1,
			RetryDelay:      50 * time.Millisecond,
		}),
	}
	c.testing.Store(cfg.Testing)
	return c
}

// UseRepository injects the student store, replacing whatever InitializeStorage would build.
func (c *Container) UseRepository(repo repository.StudentRepository) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Repository = repo
}

// InitializeStorage builds the store selected by STORAGE_DRIVER. For Mongo it connects
// and pings within ConnectTimeout.
func (c *Container) InitializeStorage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Repository != nil {
		return nil
	}

	if c.Config.StorageDriver == config.StorageDriverMemory {
		c.Repository = memory.NewStudentRepository()
		c.Logger.Info("Using in-memory student store")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.Config.ConnectTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(c.Config.MongoURI).
		SetConnectTimeout(c.Config.ConnectTimeout).
		SetServerSelectionTimeout(c.Config.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	repo := mongodb.NewMongoStudentRepository(
		client.Database(c.Config.DatabaseName),
		c.Config.CollectionName,
		c.Config.QueryTimeout,
	)
	c.mongoClient = client
	c.Repository = repo
	c.Logger.Infof("MongoDB connection established (database %s, collection %s)",
		c.Config.DatabaseName, c.Config.CollectionName)
	return nil
}

// InitializeStudents builds the students module on the current repository. When REDIS_ADDR
// is set, change events are also appended to a Redis stream.
func (c *Container) InitializeStudents() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Repository == nil {
		return fmt.Errorf("student repository must be initialized before the students module")
	}

	deps := students.Dependencies{
		Config:     c.Config,
		Repository: c.Repository,
		EventBus:   c.EventBus,
		Metrics:    c.Metrics,
		Logger:     c.Logger,
		Testing:    c.TestingMode,
	}
	if c.Config.RedisEnabled() {
		c.redisClient = config.NewRedisClient(c.Config)
		deps.Stream = c.redisClient
		c.Logger.Infof("Publishing change events to Redis stream %s", c.Config.RedisStream)
	}

	module, err := students.NewStudentsModule(deps)
	if err != nil {
		return fmt.Errorf("failed to create students module: %w", err)
	}
	c.StudentsModule = module
	return nil
}

// EnableTestingMode switches testing mode on. It cannot be switched off again.
func (c *Container) EnableTestingMode() {
	c.testing.Store(true)
}

// TestingMode reports whether testing mode is on.
func (c *Container) TestingMode() bool {
	return c.testing.Load()
}

// GetStudentsModule returns the students module instance
func (c *Container) GetStudentsModule() *students.StudentsModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StudentsModule
}

// NewHTTPApp builds the Fiber application with middleware, health, metrics and the
// students routes. InitializeStudents must have been called.
func (c *Container) NewHTTPApp() (*fiber.App, error) {
	module := c.GetStudentsModule()
	if module == nil {
		return nil, fmt.Errorf("students module must be initialized before the HTTP app")
	}

	app := fiber.New(fiber.Config{
		AppName:      "Students Registry",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: studentshttp.ErrorHandler(c.Logger),
	})

	app.Use(recover.New())
	app.Use(studentshttp.RequestID())
	app.Use(studentshttp.RequestContext())
	app.Use(studentshttp.AccessLog(c.AccessLogger, c.Metrics))
	app.Use(studentshttp.CORS(c.Config))
	app.Use(studentshttp.RateLimiter(c.Config))

	app.Get("/health", c.healthHandler)
	app.Get("/metrics", adaptor.HTTPHandler(c.Metrics.Handler()))

	module.RegisterRoutes(app)
	return app, nil
}

func (c *Container) healthHandler(fc *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(fc.UserContext(), healthTimeout)
	defer cancel()

	if err := c.HealthCheck(healthCtx); err != nil {
		c.Logger.WithContext(fc.UserContext()).Errorf("Health check failed: %v", err)
		return fc.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "UNHEALTHY",
			"error":   err.Error(),
			"message": "Student store is unavailable",
		})
	}

	return fc.JSON(fiber.Map{
		"status":    "HEALTHY",
		"message":   "Students registry is running",
		"timestamp": time.Now().UTC(),
		"storage":   c.Config.StorageDriver,
	})
}

// HealthCheck pings the student store.
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.StudentsModule != nil {
		if err := c.StudentsModule.GetRepository().Ping(ctx); err != nil {
			return fmt.Errorf("student store health check failed: %w", err)
		}
		return nil
	}
	if c.Repository != nil {
		if err := c.Repository.Ping(ctx); err != nil {
			return fmt.Errorf("student store health check failed: %w", err)
		}
	}
	return nil
}

// Cleanup stops the module and closes external connections in reverse order of
// initialization.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.StudentsModule != nil {
		if err := c.StudentsModule.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop students module: %w", err))
		}
		c.StudentsModule = nil
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
		c.redisClient = nil
	}

	if c.mongoClient != nil {
		if err := c.mongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect MongoDB: %w", err))
		}
		c.mongoClient = nil
	}

	c.Repository = nil

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// Close gracefully shuts down all services in the container with timeout
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warnf("Cleanup errors occurred: %v", err)
		return err
	}

	c.Logger.Info("Container resources closed")
	return nil
}

package students

import (
	"fmt"

	"students-registry/internal/shared/eventbus"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/metrics"
	"students-registry/internal/students/adapter/events"
	studentshttp "students-registry/internal/students/adapter/http"
	"students-registry/internal/students/adapter/persistence"
	"students-registry/internal/students/adapter/security"
	"students-registry/internal/students/config"
	"students-registry/internal/students/domain/repository"
	"students-registry/internal/students/usecase"

	"github.com/gofiber/fiber/v2"
)

// Dependencies are the shared services a StudentsModule is built from. Metrics, Logger,
// Testing and Stream may be left nil.
type Dependencies struct {
	Config     *config.Config
	Repository repository.StudentRepository
	EventBus   eventbus.EventBusInterface
	Metrics    *metrics.Metrics
	Logger     logger.Logger
	Testing    func() bool
	// Stream receives change events as well when set.
	Stream events.StreamAdder
}

// StudentsModule represents the complete students module
type StudentsModule struct {
	repository repository.StudentRepository
	usecase    usecase.StudentUsecaseInterface
	handler    *studentshttp.StudentHTTPHandler
	liveFeed   *studentshttp.LiveFeed
	sink       *events.RedisEventSink
	config     *config.Config
}

// NewStudentsModule creates a new students module instance
func NewStudentsModule(deps Dependencies) (*StudentsModule, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("students module requires a configuration")
	}
	if deps.Repository == nil {
		return nil, fmt.Errorf("students module requires a repository")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	repo := persistence.NewInstrumentedRepository(deps.Repository, deps.Metrics, log)

	studentUsecase, err := usecase.NewStudentUsecase(repo, deps.EventBus, deps.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create student usecase: %w", err)
	}

	flash, err := security.NewFlashSigner(deps.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create flash signer: %w", err)
	}

	handler := studentshttp.NewStudentHTTPHandler(
		studentUsecase,
		flash,
		deps.Config.FlashCookieName,
		deps.Testing,
		log,
	)

	liveFeed := studentshttp.NewLiveFeed(deps.Metrics, log)
	var sink *events.RedisEventSink
	if deps.EventBus != nil {
		deps.EventBus.SubscribeAll(usecase.EventTypes, liveFeed.Handle)
		if deps.Stream != nil {
			sink = events.NewRedisEventSink(deps.Stream, deps.Config.RedisStream, deps.Config.RedisMaxLen,
				deps.Config.RedisPublishTimeout, log)
			sink.Register(deps.EventBus, usecase.EventTypes)
		}
	}

	return &StudentsModule{
		repository: repo,
		usecase:    studentUsecase,
		handler:    handler,
		liveFeed:   liveFeed,
		sink:       sink,
		config:     deps.Config,
	}, nil
}

// RegisterRoutes registers the student routes and the live feed with the provided router
func (sm *StudentsModule) RegisterRoutes(router fiber.Router) {
	sm.liveFeed.RegisterRoutes(router)
	sm.handler.RegisterRoutes(router)
}

// GetUsecase returns the student usecase for external access
func (sm *StudentsModule) GetUsecase() usecase.StudentUsecaseInterface {
	return sm.usecase
}

// GetRepository returns the instrumented repository the usecase runs on
func (sm *StudentsModule) GetRepository() repository.StudentRepository {
	return sm.repository
}

// GetLiveFeed returns the WebSocket hub
func (sm *StudentsModule) GetLiveFeed() *studentshttp.LiveFeed {
	return sm.liveFeed
}

// Stop disconnects live-feed clients and stops the stream writer
func (sm *StudentsModule) Stop() error {
	sm.liveFeed.Close()
	if sm.sink != nil {
		sm.sink.Close()
	}
	return nil
}

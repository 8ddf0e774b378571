package persistence

import (
	"context"
	"errors"

	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/metrics"
	"students-registry/internal/shared/utils"
	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/domain/repository"
)

// Outcome labels recorded for every repository call.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var _ repository.StudentRepository = (*InstrumentedRepository)(nil)

// InstrumentedRepository decorates a StudentRepository with operation metrics and debug logs.
type InstrumentedRepository struct {
	next    repository.StudentRepository
	metrics *metrics.Metrics
	logger  logger.Logger
}

// NewInstrumentedRepository wraps next. A nil logger disables logging.
func NewInstrumentedRepository(next repository.StudentRepository, m *metrics.Metrics, log logger.Logger) *InstrumentedRepository {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &InstrumentedRepository{
		next:    next,
		metrics: m,
		logger:  log.WithComponent("student_repository"),
	}
}

// Unwrap returns the decorated repository.
func (r *InstrumentedRepository) Unwrap() repository.StudentRepository {
	return r.next
}

func (r *InstrumentedRepository) List(ctx context.Context) (repository.StudentCursor, error) {
	cursor, err := r.next.List(ctx)
	r.observe(ctx, "list", err)
	return cursor, err
}

func (r *InstrumentedRepository) Insert(ctx context.Context, student *model.Student) (string, error) {
	id, err := r.next.Insert(ctx, student)
	r.observe(ctx, "insert", err)
	return id, err
}

func (r *InstrumentedRepository) FindOne(ctx context.Context, filter model.Filter) (*model.Student, error) {
	student, err := r.next.FindOne(ctx, filter)
	r.observe(ctx, "find_one", err)
	return student, err
}

func (r *InstrumentedRepository) UpdateOne(ctx context.Context, filter model.Filter, patch model.Patch) (int64, error) {
	n, err := r.next.UpdateOne(ctx, filter, patch)
	r.observe(ctx, "update_one", err)
	return n, err
}

func (r *InstrumentedRepository) DeleteOne(ctx context.Context, filter model.Filter) (int64, error) {
	n, err := r.next.DeleteOne(ctx, filter)
	r.observe(ctx, "delete_one", err)
	return n, err
}

func (r *InstrumentedRepository) Ping(ctx context.Context) error {
	err := r.next.Ping(ctx)
	r.observe(ctx, "ping", err)
	return err
}

func (r *InstrumentedRepository) observe(ctx context.Context, op string, err error) {
	ctx = utils.WithOperation(ctx, op)
	outcome := outcomeOf(err)
	if r.metrics != nil {
		r.metrics.ObserveStoreOperation(op, outcome)
	}
	if outcome == OutcomeUnavailable || outcome == OutcomeError {
		r.logger.WithContext(ctx).Warnf("Store %s failed: %v", op, err)
		return
	}
	r.logger.WithContext(ctx).Debugf("Store %s: %s", op, outcome)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrStudentNotFound):
		return OutcomeNotFound
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

package usecase

import (
	"context"
	"errors"
	"time"

	apperrors "students-registry/internal/shared/errors"
	"students-registry/internal/shared/eventbus"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/metrics"
	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/domain/repository"
)

// StudentUsecaseInterface defines the student operations exposed to the transport layer.
type StudentUsecaseInterface interface {
	ListStudents(ctx context.Context, req ListStudentsRequest) ([]*model.Student, error)
	CreateStudent(ctx context.Context, student *model.Student) (*model.Student, error)
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	UpdateStudent(ctx context.Context, id string, patch model.Patch) (int64, error)
	DeleteStudent(ctx context.Context, id string) (int64, error)
	CountStudents(ctx context.Context) (int, error)
}

// StudentUsecase implements StudentUsecaseInterface on top of a StudentRepository.
type StudentUsecase struct {
	repo    repository.StudentRepository
	bus     eventbus.EventBusInterface
	filters *ExpressionFilter
	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time
}

// NewStudentUsecase wires the use case. bus and m may be nil.
func NewStudentUsecase(repo repository.StudentRepository, bus eventbus.EventBusInterface, m *metrics.Metrics, log logger.Logger) (*StudentUsecase, error) {
	filters, err := NewExpressionFilter()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &StudentUsecase{
		repo:    repo,
		bus:     bus,
		filters: filters,
		metrics: m,
		logger:  log.WithComponent("student_usecase"),
		now:     time.Now,
	}, nil
}

// ListStudents streams the collection and keeps the records matching req.
func (uc *StudentUsecase) ListStudents(ctx context.Context, req ListStudentsRequest) ([]*model.Student, error) {
	if err := validateListRequest(req); err != nil {
		return nil, err
	}

	var predicate func(*model.Student) bool
	if req.Expression != "" {
		compiled, err := uc.filters.Compile(req.Expression)
		if err != nil {
			return nil, translateError(err)
		}
		predicate = compiled
	}

	cursor, err := uc.repo.List(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer cursor.Close(ctx)

	students := make([]*model.Student, 0)
	for cursor.Next(ctx) {
		student, err := cursor.Decode()
		if err != nil {
			return nil, translateError(err)
		}
		if !matchesFields(student, req.Filter) {
			continue
		}
		if predicate != nil && !predicate(student) {
			continue
		}
		students = append(students, student)
		if req.Limit > 0 && len(students) >= req.Limit {
			break
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, translateError(err)
	}

	uc.logger.WithContext(ctx).Debugf("Listed %d students", len(students))
	return students, nil
}

// CreateStudent validates and inserts student. Any caller-supplied ID is discarded.
func (uc *StudentUsecase) CreateStudent(ctx context.Context, student *model.Student) (*model.Student, error) {
	if err := validateStudent(student); err != nil {
		return nil, err
	}

	student.ID = ""
	id, err := uc.repo.Insert(ctx, student)
	if err != nil {
		return nil, translateError(err)
	}

	uc.logger.WithContext(ctx).WithFields(map[string]interface{}{"student_id": id}).Info("Student created")
	uc.publish(ctx, EventStudentCreated, id, student)
	return student, nil
}

// GetStudent returns the student with the given identifier.
func (uc *StudentUsecase) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	student, err := uc.repo.FindOne(ctx, model.ByID(id))
	if err != nil {
		if errors.Is(err, model.ErrInvalidFilter) {
			// an identifier the store cannot parse names no record
			err = model.ErrStudentNotFound
		}
		return nil, translateError(err)
	}
	return student, nil
}

// UpdateStudent applies patch and returns the modified count (0 or 1).
func (uc *StudentUsecase) UpdateStudent(ctx context.Context, id string, patch model.Patch) (int64, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}
	if err := validatePatch(patch); err != nil {
		return 0, err
	}

	modified, err := uc.repo.UpdateOne(ctx, model.ByID(id), patch)
	if errors.Is(err, model.ErrInvalidFilter) {
		return 0, nil
	}
	if err != nil {
		return 0, translateError(err)
	}
	if modified == 0 {
		return 0, nil
	}

	updated, err := uc.repo.FindOne(ctx, model.ByID(id))
	if err != nil {
		uc.logger.WithContext(ctx).Warnf("Updated student %s could not be re-read: %v", id, err)
		updated = nil
	}
	uc.logger.WithContext(ctx).WithFields(map[string]interface{}{"student_id": id}).Info("Student updated")
	uc.publish(ctx, EventStudentUpdated, id, updated)
	return modified, nil
}

// DeleteStudent removes the student and returns the deleted count (0 or 1).
func (uc *StudentUsecase) DeleteStudent(ctx context.Context, id string) (int64, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}

	deleted, err := uc.repo.DeleteOne(ctx, model.ByID(id))
	if errors.Is(err, model.ErrInvalidFilter) {
		return 0, nil
	}
	if err != nil {
		return 0, translateError(err)
	}
	if deleted == 0 {
		return 0, nil
	}

	uc.logger.WithContext(ctx).WithFields(map[string]interface{}{"student_id": id}).Info("Student deleted")
	uc.publish(ctx, EventStudentDeleted, id, nil)
	return deleted, nil
}

// CountStudents returns the number of stored students.
func (uc *StudentUsecase) CountStudents(ctx context.Context) (int, error) {
	cursor, err := uc.repo.List(ctx)
	if err != nil {
		return 0, translateError(err)
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		count++
	}
	if err := cursor.Err(); err != nil {
		return 0, translateError(err)
	}
	return count, nil
}

// publish emits a change event. Delivery failures are logged; the write already happened.
func (uc *StudentUsecase) publish(ctx context.Context, eventType, id string, student *model.Student) {
	if uc.bus == nil {
		return
	}

	payload := StudentEvent{
		Type:       eventType,
		StudentID:  id,
		Student:    student,
		OccurredAt: uc.now().UTC(),
	}
	if err := uc.bus.Publish(ctx, eventbus.NewBasicEventWithSource(eventType, payload, eventSource)); err != nil {
		uc.logger.WithContext(ctx).Warnf("Failed to publish %s for student %s: %v", eventType, id, err)
		return
	}
	if uc.metrics != nil {
		uc.metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()
	}
}

// translateError maps domain and store errors onto the shared AppError taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, model.ErrStudentNotFound):
		return apperrors.NewNotFoundError("student").WithCause(err)
	case errors.Is(err, model.ErrInvalidFilter), errors.Is(err, model.ErrInvalidStudent):
		return apperrors.NewValidationError(err.Error()).WithCause(err)
	case errors.Is(err, model.ErrStoreUnavailable):
		return apperrors.NewUnavailableError("student store is unavailable").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewUnavailableError("student store timed out").WithCause(err)
	default:
		return apperrors.WrapError(err, "student store operation failed")
	}
}

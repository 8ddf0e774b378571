package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "students-registry/internal/shared/errors"
	"students-registry/internal/shared/eventbus"
	"students-registry/internal/shared/metrics"
	"students-registry/internal/students/adapter/persistence/memory"
	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/domain/repository"
	"students-registry/internal/students/usecase"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// Mock repository
type mockStudentRepository struct {
	mock.Mock
}

func (m *mockStudentRepository) List(ctx context.Context) (repository.StudentCursor, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(repository.StudentCursor), args.Error(1)
}

func (m *mockStudentRepository) Insert(ctx context.Context, student *model.Student) (string, error) {
	args := m.Called(ctx, student)
	return args.String(0), args.Error(1)
}

func (m *mockStudentRepository) FindOne(ctx context.Context, filter model.Filter) (*model.Student, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Student), args.Error(1)
}

func (m *mockStudentRepository) UpdateOne(ctx context.Context, filter model.Filter, patch model.Patch) (int64, error) {
	args := m.Called(ctx, filter, patch)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStudentRepository) DeleteOne(ctx context.Context, filter model.Filter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStudentRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// failingCursor yields no records and reports err.
type failingCursor struct{ err error }

func (c *failingCursor) Next(context.Context) bool       { return false }
func (c *failingCursor) Decode() (*model.Student, error) { return nil, c.err }
func (c *failingCursor) Err() error                      { return c.err }
func (c *failingCursor) Close(context.Context) error     { return nil }

// recordedEvents collects bus deliveries.
type recordedEvents struct {
	mu     sync.Mutex
	events []usecase.StudentEvent
}

func (r *recordedEvents) handle(_ context.Context, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Data().(usecase.StudentEvent))
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type StudentUsecaseTestSuite struct {
	suite.Suite
	ctx     context.Context
	repo    *memory.StudentRepository
	metrics *metrics.Metrics
	events  *recordedEvents
	uc      *usecase.StudentUsecase
}

func (s *StudentUsecaseTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = memory.NewStudentRepository()
	s.metrics = metrics.New()
	s.events = &recordedEvents{}

	bus := eventbus.NewEventBus(nil)
	bus.SubscribeAll(usecase.EventTypes, s.events.handle)

	uc, err := usecase.NewStudentUsecase(s.repo, bus, s.metrics, nil)
	s.Require().NoError(err)
	s.uc = uc
}

func (s *StudentUsecaseTestSuite) create(name string, grade float64, course string) *model.Student {
	student, err := s.uc.CreateStudent(s.ctx, &model.Student{Name: name, Grade: model.Float64(grade), Course: course})
	s.Require().NoError(err)
	return student
}

func (s *StudentUsecaseTestSuite) TestCreateThenGet() {
	created, err := s.uc.CreateStudent(s.ctx, &model.Student{ID: "ignored", Name: "Alice"})
	s.Require().NoError(err)
	s.NotEmpty(created.ID)
	s.NotEqual("ignored", created.ID)

	found, err := s.uc.GetStudent(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("Alice", found.Name)
	s.Equal(created.ID, found.ID)

	s.Equal([]string{usecase.EventStudentCreated}, s.events.types())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsPublishedTotal.WithLabelValues(usecase.EventStudentCreated)))
}

func (s *StudentUsecaseTestSuite) TestCreate_Validation() {
	cases := []struct {
		name    string
		student *model.Student
		field   string
	}{
		{"nil body", nil, "student"},
		{"missing name", &model.Student{Name: "  "}, model.FieldName},
		{"long name", &model.Student{Name: string(make([]byte, 201))}, model.FieldName},
		{"bad email", &model.Student{Name: "A", Email: "nobody"}, model.FieldEmail},
		{"grade above range", &model.Student{Name: "A", Grade: model.Float64(101)}, model.FieldGrade},
		{"negative age", &model.Student{Name: "A", Age: model.Int(-1)}, model.FieldAge},
		{"store id key", &model.Student{Name: "A", Extra: map[string]interface{}{"_id": "x"}}, "_id"},
		{"operator key", &model.Student{Name: "A", Extra: map[string]interface{}{"$where": "1"}}, "$where"},
		{"dotted key", &model.Student{Name: "A", Extra: map[string]interface{}{"address.city": "Lyon"}}, "address.city"},
		{"empty key", &model.Student{Name: "A", Extra: map[string]interface{}{"": 1}}, ""},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.uc.CreateStudent(s.ctx, tc.student)
			s.Require().Error(err)
			s.True(apperrors.IsValidation(err))

			appErr, ok := apperrors.AsAppError(err)
			s.Require().True(ok)
			details := appErr.Details["validation_errors"].([]apperrors.ValidationError)
			s.Equal(tc.field, details[0].Field)
		})
	}
	s.Empty(s.events.types())
	s.Equal(0, s.repo.Len())
}

func (s *StudentUsecaseTestSuite) TestGetStudent_NotFound() {
	_, err := s.uc.GetStudent(s.ctx, "missing")
	s.True(apperrors.IsNotFound(err))
	s.ErrorIs(err, model.ErrStudentNotFound)

	_, err = s.uc.GetStudent(s.ctx, "")
	s.True(apperrors.IsValidation(err))
}

func (s *StudentUsecaseTestSuite) TestUpdateStudent() {
	created := s.create("Alice", 70, "Math")

	grade := 85.0
	modified, err := s.uc.UpdateStudent(s.ctx, created.ID, model.Patch{Grade: &grade})
	s.Require().NoError(err)
	s.Equal(int64(1), modified)

	found, err := s.uc.GetStudent(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(85.0, *found.Grade)

	s.Equal([]string{usecase.EventStudentCreated, usecase.EventStudentUpdated}, s.events.types())
	s.Equal(85.0, *s.events.events[1].Student.Grade)
}

func (s *StudentUsecaseTestSuite) TestUpdateAndDelete_MissingStudentPublishNothing() {
	name := "Bob"
	modified, err := s.uc.UpdateStudent(s.ctx, "missing", model.Patch{Name: &name})
	s.NoError(err)
	s.Equal(int64(0), modified)

	deleted, err := s.uc.DeleteStudent(s.ctx, "missing")
	s.NoError(err)
	s.Equal(int64(0), deleted)

	s.Empty(s.events.types())
}

func (s *StudentUsecaseTestSuite) TestUpdateStudent_RejectsInvalidPatch() {
	created := s.create("Alice", 70, "Math")

	_, err := s.uc.UpdateStudent(s.ctx, created.ID, model.Patch{})
	s.True(apperrors.IsValidation(err))

	tooHigh := 250
	_, err = s.uc.UpdateStudent(s.ctx, created.ID, model.Patch{Age: &tooHigh})
	s.True(apperrors.IsValidation(err))

	for _, patch := range []model.Patch{
		{Extra: map[string]interface{}{"_id": "other"}},
		{Extra: map[string]interface{}{"$set": map[string]interface{}{"name": "x"}}},
		{Extra: map[string]interface{}{"grade": 10}},
		{Unset: []string{"$inc"}},
		{Unset: []string{"name"}},
	} {
		_, err = s.uc.UpdateStudent(s.ctx, created.ID, patch)
		s.True(apperrors.IsValidation(err), "patch %+v", patch)
	}

	found, err := s.uc.GetStudent(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Empty(found.Extra)
	s.Equal("Alice", found.Name)
}

func (s *StudentUsecaseTestSuite) TestDeleteStudent() {
	created := s.create("Alice", 70, "Math")

	deleted, err := s.uc.DeleteStudent(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.uc.GetStudent(s.ctx, created.ID)
	s.True(apperrors.IsNotFound(err))
	s.Equal([]string{usecase.EventStudentCreated, usecase.EventStudentDeleted}, s.events.types())
}

func (s *StudentUsecaseTestSuite) TestListStudents_FiltersAndLimit() {
	s.create("Alice", 91, "Math")
	s.create("Bob", 75, "Math")
	s.create("Carol", 88, "Physics")

	all, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{})
	s.Require().NoError(err)
	s.Len(all, 3)

	math, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{Filter: model.Filter{"course": "Math"}})
	s.Require().NoError(err)
	s.Len(math, 2)

	strong, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{Expression: "student.grade >= 85"})
	s.Require().NoError(err)
	s.Require().Len(strong, 2)
	s.Equal("Alice", strong[0].Name)
	s.Equal("Carol", strong[1].Name)

	both, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{
		Filter:     model.Filter{"grade": 91},
		Expression: `student.name.startsWith("A")`,
	})
	s.Require().NoError(err)
	s.Len(both, 1)

	limited, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *StudentUsecaseTestSuite) TestListStudents_ExtensionValuesFromQueryStrings() {
	_, err := s.uc.CreateStudent(s.ctx, &model.Student{Name: "Alice", Extra: map[string]interface{}{"year": 3}})
	s.Require().NoError(err)
	_, err = s.uc.CreateStudent(s.ctx, &model.Student{Name: "Bob", Extra: map[string]interface{}{"year": "3"}})
	s.Require().NoError(err)
	_, err = s.uc.CreateStudent(s.ctx, &model.Student{Name: "Carol", Extra: map[string]interface{}{"year": 3.5}})
	s.Require().NoError(err)

	third, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{
		Filter: model.Filter{"year": model.ParseFilterValue("year", "3")},
	})
	s.Require().NoError(err)
	s.Require().Len(third, 2)
	s.Equal("Alice", third[0].Name)
	s.Equal("Bob", third[1].Name)

	half, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{
		Filter: model.Filter{"year": model.ParseFilterValue("year", "3.5")},
	})
	s.Require().NoError(err)
	s.Require().Len(half, 1)
	s.Equal("Carol", half[0].Name)
}

func (s *StudentUsecaseTestSuite) TestListStudents_InvalidRequests() {
	_, err := s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{Expression: "student.grade >="})
	s.True(apperrors.IsValidation(err))
	s.ErrorIs(err, model.ErrInvalidFilter)

	_, err = s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{Expression: `"not a bool"`})
	s.True(apperrors.IsValidation(err))

	_, err = s.uc.ListStudents(s.ctx, usecase.ListStudentsRequest{Limit: -1})
	s.True(apperrors.IsValidation(err))
}

func (s *StudentUsecaseTestSuite) TestCountStudents() {
	s.create("Alice", 91, "Math")
	s.create("Bob", 75, "Math")

	count, err := s.uc.CountStudents(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, count)
}

func TestStudentUsecaseTestSuite(t *testing.T) {
	suite.Run(t, new(StudentUsecaseTestSuite))
}

func TestStudentUsecase_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	repo := new(mockStudentRepository)
	uc, err := usecase.NewStudentUsecase(repo, nil, nil, nil)
	require.NoError(t, err)

	down := fmt.Errorf("find student: %w: %w", model.ErrStoreUnavailable, errors.New("connection refused"))
	repo.On("FindOne", ctx, model.ByID("abc")).Return(nil, down)
	repo.On("Insert", ctx, mock.AnythingOfType("*model.Student")).Return("", down)
	repo.On("List", ctx).Return(nil, down)

	_, err = uc.GetStudent(ctx, "abc")
	assert.True(t, apperrors.IsUnavailable(err))
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	_, err = uc.CreateStudent(ctx, &model.Student{Name: "Alice"})
	assert.True(t, apperrors.IsUnavailable(err))

	_, err = uc.CountStudents(ctx)
	assert.True(t, apperrors.IsUnavailable(err))

	repo.AssertExpectations(t)
}

func TestStudentUsecase_CursorErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	repo := new(mockStudentRepository)
	uc, err := usecase.NewStudentUsecase(repo, nil, nil, nil)
	require.NoError(t, err)

	repo.On("List", ctx).Return(&failingCursor{err: errors.New("cursor killed")}, nil)

	_, err = uc.ListStudents(ctx, usecase.ListStudentsRequest{})
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeInternal, appErr.Type)
}

func TestStudentUsecase_UnparsableIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := new(mockStudentRepository)
	uc, err := usecase.NewStudentUsecase(repo, nil, nil, nil)
	require.NoError(t, err)

	bad := fmt.Errorf("%w: malformed id", model.ErrInvalidFilter)
	repo.On("FindOne", ctx, model.ByID("zzz")).Return(nil, bad)
	repo.On("DeleteOne", ctx, model.ByID("zzz")).Return(int64(0), bad)

	_, err = uc.GetStudent(ctx, "zzz")
	assert.True(t, apperrors.IsNotFound(err))

	deleted, err := uc.DeleteStudent(ctx, "zzz")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

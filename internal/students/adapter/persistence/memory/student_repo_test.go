package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"students-registry/internal/students/adapter/persistence/memory"
	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryRepoTestSuite struct {
	suite.Suite
	ctx   context.Context
	clock time.Time
	seq   int
	repo  *memory.StudentRepository
}

func (s *MemoryRepoTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.seq = 0
	s.repo = memory.NewStudentRepository(
		memory.WithClock(func() time.Time { return s.clock }),
		memory.WithIDGenerator(func() string {
			s.seq++
			return fmt.Sprintf("stu-%d", s.seq)
		}),
	)
}

func (s *MemoryRepoTestSuite) insert(student *model.Student) string {
	id, err := s.repo.Insert(s.ctx, student)
	s.Require().NoError(err)
	return id
}

func (s *MemoryRepoTestSuite) TestInsertThenFindOne_RoundTrip() {
	id := s.insert(&model.Student{Name: "Alice"})
	s.Equal("stu-1", id)

	found, err := s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal("Alice", found.Name)
	s.Equal(id, found.ID)
	s.Equal(s.clock, found.CreatedAt)
	s.Equal(s.clock, found.UpdatedAt)
}

func (s *MemoryRepoTestSuite) TestInsert_WritesBackIDAndIgnoresCallerID() {
	student := &model.Student{ID: "chosen-by-caller", Name: "Bob"}
	id := s.insert(student)

	s.Equal("stu-1", id)
	s.Equal(id, student.ID)
	_, err := s.repo.FindOne(s.ctx, model.ByID("chosen-by-caller"))
	s.ErrorIs(err, model.ErrStudentNotFound)
}

func (s *MemoryRepoTestSuite) TestInsert_SkipsTakenIdentifier() {
	repo := memory.NewStudentRepository(memory.WithIDGenerator(func() func() string {
		ids := []string{"dup", "dup", "fresh"}
		return func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}
	}()))

	first, err := repo.Insert(s.ctx, &model.Student{Name: "A"})
	s.Require().NoError(err)
	second, err := repo.Insert(s.ctx, &model.Student{Name: "B"})
	s.Require().NoError(err)

	s.Equal("dup", first)
	s.Equal("fresh", second)
}

func (s *MemoryRepoTestSuite) TestInsert_NilStudent() {
	_, err := s.repo.Insert(s.ctx, nil)
	s.ErrorIs(err, model.ErrInvalidStudent)
}

func (s *MemoryRepoTestSuite) TestStoredRecordsAreIsolated() {
	student := &model.Student{Name: "Alice", Grade: model.Float64(80), Extra: map[string]interface{}{"club": "chess"}}
	id := s.insert(student)

	*student.Grade = 10
	student.Extra["club"] = "golf"

	found, err := s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal(80.0, *found.Grade)
	s.Equal("chess", found.Extra["club"])

	found.Name = "Mallory"
	again, err := s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal("Alice", again.Name)
}

func (s *MemoryRepoTestSuite) TestNestedExtraValuesAreIsolated() {
	address := map[string]interface{}{"city": "Paris"}
	id := s.insert(&model.Student{Name: "Alice", Extra: map[string]interface{}{
		"address": address,
		"tags":    []interface{}{"a"},
	}})

	address["city"] = "Berlin"
	found, err := s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	found.Extra["tags"].([]interface{})[0] = "mutated"
	found.Extra["address"].(map[string]interface{})["zip"] = "75001"

	again, err := s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal(map[string]interface{}{"city": "Paris"}, again.Extra["address"])
	s.Equal([]interface{}{"a"}, again.Extra["tags"])

	// nested values handed over in a patch are copied as well
	skills := []interface{}{"go"}
	_, err = s.repo.UpdateOne(s.ctx, model.ByID(id), model.Patch{Extra: map[string]interface{}{"skills": skills}})
	s.Require().NoError(err)
	skills[0] = "cobol"

	again, err = s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal([]interface{}{"go"}, again.Extra["skills"])

	cursor, err := s.repo.List(s.ctx)
	s.Require().NoError(err)
	listed, err := repository.Collect(s.ctx, cursor, 0)
	s.Require().NoError(err)
	listed[0].Extra["address"].(map[string]interface{})["city"] = "Rome"

	again, err = s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal("Paris", again.Extra["address"].(map[string]interface{})["city"])
}

func (s *MemoryRepoTestSuite) TestFindOne_ByAttributes() {
	s.insert(&model.Student{Name: "Alice", Grade: model.Float64(91), Course: "Math"})
	bobID := s.insert(&model.Student{Name: "Bob", Grade: model.Float64(75), Course: "Math",
		Extra: map[string]interface{}{"clubs": []interface{}{"chess", "drama"}, "address": map[string]interface{}{"city": "Lyon"}}})

	cases := []struct {
		name   string
		filter model.Filter
		wantID string
	}{
		{"first match in insertion order", model.Filter{"course": "Math"}, "stu-1"},
		{"numeric", model.Filter{"grade": 75}, bobID},
		{"array contains", model.Filter{"clubs": "drama"}, bobID},
		{"nested path", model.Filter{"address.city": "Lyon"}, bobID},
		{"id with attribute", model.Filter{"id": bobID, "name": "Bob"}, bobID},
		{"any of", model.Filter{"grade": model.AnyOf{"75", 75.0}}, bobID},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			found, err := s.repo.FindOne(s.ctx, tc.filter)
			s.Require().NoError(err)
			s.Equal(tc.wantID, found.ID)
		})
	}
}

func (s *MemoryRepoTestSuite) TestFindOne_NotFound() {
	id := s.insert(&model.Student{Name: "Alice", Grade: model.Float64(91)})

	for _, filter := range []model.Filter{
		{"name": "Nobody"},
		{"grade": "91"},
		{"id": id, "name": "Bob"},
		{"id": 42},
		model.ByID("missing"),
	} {
		_, err := s.repo.FindOne(s.ctx, filter)
		s.ErrorIs(err, model.ErrStudentNotFound, "filter %v", filter)
	}
}

func (s *MemoryRepoTestSuite) TestFindOne_MissingAttributeMatchesNil() {
	id := s.insert(&model.Student{Name: "Alice"})
	found, err := s.repo.FindOne(s.ctx, model.Filter{"nickname": nil})
	s.Require().NoError(err)
	s.Equal(id, found.ID)
}

func (s *MemoryRepoTestSuite) TestFindOne_RejectsPathSyntax() {
	_, err := s.repo.FindOne(s.ctx, model.Filter{"clubs.#": 2})
	s.ErrorIs(err, model.ErrInvalidFilter)
}

func (s *MemoryRepoTestSuite) TestUpdateOne() {
	id := s.insert(&model.Student{Name: "Alice", Extra: map[string]interface{}{"club": "chess"}})
	s.clock = s.clock.Add(time.Hour)

	grade := 95.0
	modified, err := s.repo.UpdateOne(s.ctx, model.ByID(id), model.Patch{
		Grade: &grade,
		Extra: map[string]interface{}{"nickname": "Al"},
		Unset: []string{"club"},
	})
	s.Require().NoError(err)
	s.Equal(int64(1), modified)

	found, err := s.repo.FindOne(s.ctx, model.ByID(id))
	s.Require().NoError(err)
	s.Equal(95.0, *found.Grade)
	s.Equal(map[string]interface{}{"nickname": "Al"}, found.Extra)
	s.Equal(s.clock, found.UpdatedAt)
	s.Equal(s.clock.Add(-time.Hour), found.CreatedAt)
}

func (s *MemoryRepoTestSuite) TestUpdateOneAndDeleteOne_ZeroMatches() {
	s.insert(&model.Student{Name: "Alice"})

	modified, err := s.repo.UpdateOne(s.ctx, model.Filter{"name": "Nobody"}, model.Patch{Course: new(string)})
	s.NoError(err)
	s.Equal(int64(0), modified)

	deleted, err := s.repo.DeleteOne(s.ctx, model.ByID("missing"))
	s.NoError(err)
	s.Equal(int64(0), deleted)
	s.Equal(1, s.repo.Len())
}

func (s *MemoryRepoTestSuite) TestDeleteOne_RemovesOnlyFirstMatch() {
	s.insert(&model.Student{Name: "Twin"})
	s.insert(&model.Student{Name: "Twin"})

	deleted, err := s.repo.DeleteOne(s.ctx, model.Filter{"name": "Twin"})
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	remaining, err := s.repo.FindOne(s.ctx, model.Filter{"name": "Twin"})
	s.Require().NoError(err)
	s.Equal("stu-2", remaining.ID)
	s.Equal(1, s.repo.Len())
}

func (s *MemoryRepoTestSuite) TestList_InsertionOrderSnapshot() {
	s.insert(&model.Student{Name: "A"})
	s.insert(&model.Student{Name: "B"})

	cursor, err := s.repo.List(s.ctx)
	s.Require().NoError(err)

	// writes after List do not show up in the snapshot
	s.insert(&model.Student{Name: "C"})

	students, err := repository.Collect(s.ctx, cursor, 0)
	s.Require().NoError(err)
	s.Require().Len(students, 2)
	s.Equal("A", students[0].Name)
	s.Equal("B", students[1].Name)
}

func (s *MemoryRepoTestSuite) TestList_CancelledContext() {
	s.insert(&model.Student{Name: "A"})
	cursor, err := s.repo.List(s.ctx)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.False(cursor.Next(ctx))
	s.ErrorIs(cursor.Err(), context.Canceled)

	_, err = s.repo.List(ctx)
	s.ErrorIs(err, context.Canceled)
}

func (s *MemoryRepoTestSuite) TestPing() {
	s.NoError(s.repo.Ping(s.ctx))
}

func TestMemoryRepoTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryRepoTestSuite))
}

func TestStudentRepository_ConcurrentAccess(t *testing.T) {
	repo := memory.NewStudentRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := repo.Insert(ctx, &model.Student{Name: fmt.Sprintf("s%d", i)})
			assert.NoError(t, err)
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := repo.UpdateOne(ctx, model.ByID(id), model.Patch{Age: model.Int(20)})
			assert.NoError(t, err)
			_, err = repo.FindOne(ctx, model.ByID(id))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	require.Equal(t, 50, repo.Len())
}

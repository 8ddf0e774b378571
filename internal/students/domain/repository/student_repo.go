package repository

import (
	"context"

	"students-registry/internal/students/domain/model"
)

// StudentRepository is the data-access boundary over the students collection.
// Implementations: adapter/persistence/mongodb (production) and adapter/persistence/memory.
type StudentRepository interface {
	// List returns a lazy cursor over every record. Callers must Close it.
	List(ctx context.Context) (StudentCursor, error)
	// Insert stores the record and returns its generated identifier. The identifier and
	// timestamps are also written back onto student.
	Insert(ctx context.Context, student *model.Student) (string, error)
	// FindOne returns the first record matching filter, or model.ErrStudentNotFound.
	FindOne(ctx context.Context, filter model.Filter) (*model.Student, error)
	// UpdateOne applies patch to at most one matching record and returns how many were modified.
	UpdateOne(ctx context.Context, filter model.Filter, patch model.Patch) (int64, error)
	// DeleteOne removes at most one matching record and returns how many were deleted.
	DeleteOne(ctx context.Context, filter model.Filter) (int64, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// StudentCursor iterates over a finite sequence of records.
type StudentCursor interface {
	Next(ctx context.Context) bool
	Decode() (*model.Student, error)
	Err() error
	Close(ctx context.Context) error
}

// Collect drains a cursor into a slice, stopping after limit records when limit > 0.
// The cursor is always closed.
func Collect(ctx context.Context, cursor StudentCursor, limit int) (students []*model.Student, err error) {
	defer func() {
		if closeErr := cursor.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	students = make([]*model.Student, 0)
	for cursor.Next(ctx) {
		student, decodeErr := cursor.Decode()
		if decodeErr != nil {
			return nil, decodeErr
		}
		students = append(students, student)
		if limit > 0 && len(students) >= limit {
			return students, nil
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return students, nil
}

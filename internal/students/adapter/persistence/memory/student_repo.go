package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/domain/repository"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/tidwall/btree"
)

var _ repository.StudentRepository = (*StudentRepository)(nil)

// entry is one stored record; seq fixes its position in insertion order.
type entry struct {
	seq     uint64
	student *model.Student
}

func bySequence(a, b interface{}) bool {
	return a.(*entry).seq < b.(*entry).seq
}

// StudentRepository keeps students in process memory. It honours the same contract as the
// MongoDB repository, including the insert/find round trip, and is safe for concurrent use.
// Records are cloned on the way in and out so callers never share state with the store.
type StudentRepository struct {
	mu      sync.RWMutex
	ordered *btree.BTree
	byID    map[string]*entry
	nextSeq uint64
	now     func() time.Time
	newID   func() string
}

// Option customises a StudentRepository.
type Option func(*StudentRepository)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *StudentRepository) { r.now = now }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *StudentRepository) { r.newID = newID }
}

// NewStudentRepository creates an empty in-memory repository.
func NewStudentRepository(opts ...Option) *StudentRepository {
	r := &StudentRepository{
		ordered: btree.NewNonConcurrent(bySequence),
		byID:    make(map[string]*entry),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns a cursor over a snapshot of the records in insertion order.
func (r *StudentRepository) List(ctx context.Context) (repository.StudentCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var cloneErr error
	snapshot := make([]*model.Student, 0, r.ordered.Len())
	r.ordered.Ascend(nil, func(item interface{}) bool {
		clone, err := cloneStudent(item.(*entry).student)
		if err != nil {
			cloneErr = err
			return false
		}
		snapshot = append(snapshot, clone)
		return true
	})
	if cloneErr != nil {
		return nil, cloneErr
	}

	return &cursor{items: snapshot}, nil
}

// Insert stores a copy of student under a fresh identifier. A caller-supplied ID is ignored.
func (r *StudentRepository) Insert(ctx context.Context, student *model.Student) (string, error) {
	if student == nil {
		return "", model.ErrInvalidStudent
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for r.byID[id] != nil {
		id = r.newID()
	}

	now := r.now().UTC()
	stored, err := cloneStudent(student)
	if err != nil {
		return "", err
	}
	stored.ID = id
	stored.CreatedAt = now
	stored.UpdatedAt = now

	student.ID = id
	student.CreatedAt = now
	student.UpdatedAt = now

	r.nextSeq++
	e := &entry{seq: r.nextSeq, student: stored}
	r.ordered.Set(e)
	r.byID[id] = e
	return id, nil
}

// FindOne returns a copy of the first record, in insertion order, matching filter.
func (r *StudentRepository) FindOne(ctx context.Context, filter model.Filter) (*model.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.findLocked(filter)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, model.ErrStudentNotFound
	}
	return cloneStudent(e.student)
}

// UpdateOne applies patch to the first matching record. Matching zero records is not an error.
func (r *StudentRepository) UpdateOne(ctx context.Context, filter model.Filter, patch model.Patch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.findLocked(filter)
	if err != nil || e == nil {
		return 0, err
	}

	patched, err := cloneStudent(e.student)
	if err != nil {
		return 0, err
	}
	patch.Apply(patched)
	// the patch may carry caller-owned nested values
	updated, err := cloneStudent(patched)
	if err != nil {
		return 0, err
	}
	updated.UpdatedAt = r.now().UTC()
	e.student = updated
	return 1, nil
}

// DeleteOne removes the first matching record. Matching zero records is not an error.
func (r *StudentRepository) DeleteOne(ctx context.Context, filter model.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.findLocked(filter)
	if err != nil || e == nil {
		return 0, err
	}

	r.ordered.Delete(e)
	delete(r.byID, e.student.ID)
	return 1, nil
}

// Ping always succeeds; the store lives in process.
func (r *StudentRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored records.
func (r *StudentRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// findLocked resolves filter to an entry. The id key is served from the index; remaining
// keys are matched against the stored document. Callers hold r.mu.
func (r *StudentRepository) findLocked(filter model.Filter) (*entry, error) {
	m, err := newMatcher(filter)
	if err != nil {
		return nil, err
	}

	if id, ok := filter.ID(); ok {
		e, found := r.byID[id]
		if !found {
			return nil, nil
		}
		matched, err := m.matches(e.student)
		if err != nil || !matched {
			return nil, err
		}
		return e, nil
	}
	if _, hasID := filter[model.FieldID]; hasID {
		// a non-string id can never match a stored identifier
		return nil, nil
	}

	var (
		found   *entry
		iterErr error
	)
	r.ordered.Ascend(nil, func(item interface{}) bool {
		e := item.(*entry)
		matched, err := m.matches(e.student)
		if err != nil {
			iterErr = err
			return false
		}
		if matched {
			found = e
			return false
		}
		return true
	})
	return found, iterErr
}

// cloneStudent copies s including nested maps and slices held in Extra.
func cloneStudent(s *model.Student) (*model.Student, error) {
	out := *s
	if s.Grade != nil {
		g := *s.Grade
		out.Grade = &g
	}
	if s.Age != nil {
		a := *s.Age
		out.Age = &a
	}
	if s.Extra != nil {
		out.Extra = make(map[string]interface{}, len(s.Extra))
		if err := copier.CopyWithOption(&out.Extra, s.Extra, copier.Option{DeepCopy: true}); err != nil {
			return nil, fmt.Errorf("%w: copy extension attributes: %v", model.ErrInvalidStudent, err)
		}
	}
	return &out, nil
}

// cursor walks a snapshot taken at List time.
type cursor struct {
	items []*model.Student
	pos   int
	cur   *model.Student
	err   error
}

func (c *cursor) Next(ctx context.Context) bool {
	c.cur = nil
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.items) {
		return false
	}
	c.cur = c.items[c.pos]
	c.pos++
	return true
}

func (c *cursor) Decode() (*model.Student, error) {
	if c.cur == nil {
		return nil, model.ErrStudentNotFound
	}
	return c.cur, nil
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(context.Context) error {
	c.items = nil
	c.cur = nil
	return nil
}

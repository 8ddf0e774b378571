package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/domain/repository"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

var _ repository.StudentRepository = (*MongoStudentRepository)(nil)

// studentDocument is the stored shape of a student. Unknown attributes live inline.
type studentDocument struct {
	ObjectID  primitive.ObjectID     `bson:"_id,omitempty"`
	Name      string                 `bson:"name"`
	Email     string                 `bson:"email,omitempty"`
	Grade     *float64               `bson:"grade,omitempty"`
	Age       *int                   `bson:"age,omitempty"`
	Course    string                 `bson:"course,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
	UpdatedAt time.Time              `bson:"updated_at"`
	Extra     map[string]interface{} `bson:",inline"`
}

// MongoStudentRepository implements repository.StudentRepository on a MongoDB collection.
type MongoStudentRepository struct {
	collection   *mongo.Collection
	queryTimeout time.Duration
}

// NewMongoStudentRepository creates a repository over db.<collectionName>. It performs no I/O.
func NewMongoStudentRepository(db *mongo.Database, collectionName string, queryTimeout time.Duration) *MongoStudentRepository {
	collOpts := options.Collection().SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	return &MongoStudentRepository{
		collection:   db.Collection(collectionName, collOpts),
		queryTimeout: queryTimeout,
	}
}

// List returns a cursor over the whole collection.
func (r *MongoStudentRepository) List(ctx context.Context) (repository.StudentCursor, error) {
	findCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	cur, err := r.collection.Find(findCtx, bson.M{})
	if err != nil {
		return nil, wrapStoreError("list students", err)
	}
	return &studentCursor{cursor: cur, timeout: r.queryTimeout}, nil
}

// Insert stores student and returns the hex form of its new ObjectID.
func (r *MongoStudentRepository) Insert(ctx context.Context, student *model.Student) (string, error) {
	if student == nil {
		return "", model.ErrInvalidStudent
	}

	doc, err := toDocument(student)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc.ObjectID = primitive.NewObjectID()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return "", wrapStoreError("insert student", err)
	}

	student.ID = doc.ObjectID.Hex()
	student.CreatedAt = now
	student.UpdatedAt = now
	return student.ID, nil
}

// FindOne returns the first document matching filter.
func (r *MongoStudentRepository) FindOne(ctx context.Context, filter model.Filter) (*model.Student, error) {
	query, err := toQuery(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var doc studentDocument
	if err := r.collection.FindOne(ctx, query).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrStudentNotFound
		}
		return nil, wrapStoreError("find student", err)
	}
	return toModel(&doc)
}

// UpdateOne applies patch with $set/$unset. updated_at is always refreshed, so a matched
// document always counts as modified.
func (r *MongoStudentRepository) UpdateOne(ctx context.Context, filter model.Filter, patch model.Patch) (int64, error) {
	query, err := toQuery(filter)
	if err != nil {
		return 0, err
	}
	update, err := toUpdate(patch, time.Now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return 0, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.collection.UpdateOne(ctx, query, update)
	if err != nil {
		return 0, wrapStoreError("update student", err)
	}
	return res.ModifiedCount, nil
}

// DeleteOne removes the first document matching filter.
func (r *MongoStudentRepository) DeleteOne(ctx context.Context, filter model.Filter) (int64, error) {
	query, err := toQuery(filter)
	if err != nil {
		return 0, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.collection.DeleteOne(ctx, query)
	if err != nil {
		return 0, wrapStoreError("delete student", err)
	}
	return res.DeletedCount, nil
}

// Ping checks the deployment behind the collection.
func (r *MongoStudentRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.collection.Database().RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return wrapStoreError("ping", err)
	}
	return nil
}

func (r *MongoStudentRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// toQuery translates a filter into a MongoDB query. The id key becomes an _id ObjectID match.
func toQuery(filter model.Filter) (bson.M, error) {
	query := bson.M{}
	for key, value := range filter {
		if key == "" || strings.HasPrefix(key, "$") || key == "_id" {
			return nil, fmt.Errorf("%w: unsupported field %q", model.ErrInvalidFilter, key)
		}
		if key != model.FieldID {
			if alternatives, ok := value.(model.AnyOf); ok {
				query[key] = bson.M{"$in": []interface{}(alternatives)}
				continue
			}
			query[key] = value
			continue
		}

		id, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: id must be a string", model.ErrInvalidFilter)
		}
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed id %q", model.ErrInvalidFilter, id)
		}
		query["_id"] = oid
	}
	return query, nil
}

func toUpdate(patch model.Patch, now time.Time) (bson.M, error) {
	set := bson.M{model.FieldUpdatedAt: now}
	if patch.Name != nil {
		set[model.FieldName] = *patch.Name
	}
	if patch.Email != nil {
		set[model.FieldEmail] = *patch.Email
	}
	if patch.Grade != nil {
		set[model.FieldGrade] = *patch.Grade
	}
	if patch.Age != nil {
		set[model.FieldAge] = *patch.Age
	}
	if patch.Course != nil {
		set[model.FieldCourse] = *patch.Course
	}
	for key, value := range patch.Extra {
		if err := model.CheckExtensionKey(key); err != nil {
			return nil, err
		}
		set[key] = value
	}

	update := bson.M{"$set": set}
	if len(patch.Unset) > 0 {
		unset := bson.M{}
		for _, key := range patch.Unset {
			if err := model.CheckExtensionKey(key); err != nil {
				return nil, err
			}
			unset[key] = ""
		}
		update["$unset"] = unset
	}
	return update, nil
}

func toDocument(student *model.Student) (*studentDocument, error) {
	doc := &studentDocument{}
	if err := copier.Copy(doc, student); err != nil {
		return nil, fmt.Errorf("map student to document: %w", err)
	}
	if len(student.Extra) > 0 {
		doc.Extra = make(map[string]interface{}, len(student.Extra))
		for key, value := range student.Extra {
			if err := model.CheckExtensionKey(key); err != nil {
				return nil, err
			}
			doc.Extra[key] = value
		}
	} else {
		doc.Extra = nil
	}
	return doc, nil
}

func toModel(doc *studentDocument) (*model.Student, error) {
	student := &model.Student{}
	if err := copier.Copy(student, doc); err != nil {
		return nil, fmt.Errorf("map document to student: %w", err)
	}
	student.ID = doc.ObjectID.Hex()
	student.CreatedAt = doc.CreatedAt.UTC()
	student.UpdatedAt = doc.UpdatedAt.UTC()
	if len(doc.Extra) > 0 {
		student.Extra = make(map[string]interface{}, len(doc.Extra))
		for key, value := range doc.Extra {
			student.Extra[key] = normalizeValue(value)
		}
	} else {
		student.Extra = nil
	}
	return student, nil
}

// normalizeValue turns driver types into plain Go values so records serialise the same way
// regardless of the store they came from.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case int32:
		return int64(val)
	default:
		return v
	}
}

// wrapStoreError marks connectivity failures with model.ErrStoreUnavailable and keeps the
// driver error in the chain.
func wrapStoreError(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var selErr topology.ServerSelectionError
	return errors.As(err, &selErr)
}

// documentCursor is the part of *mongo.Cursor the student cursor reads through.
type documentCursor interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// studentCursor adapts *mongo.Cursor to repository.StudentCursor. Each Next, which may
// fetch another batch, gets its own QueryTimeout.
type studentCursor struct {
	cursor  documentCursor
	timeout time.Duration
	err     error
}

func (c *studentCursor) Next(ctx context.Context) bool {
	if c.timeout <= 0 {
		return c.cursor.Next(ctx)
	}
	nextCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.cursor.Next(nextCtx)
}

func (c *studentCursor) Decode() (*model.Student, error) {
	var doc studentDocument
	if err := c.cursor.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode student: %w", err)
	}
	return toModel(&doc)
}

func (c *studentCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cursor.Err(); err != nil {
		c.err = wrapStoreError("iterate students", err)
	}
	return c.err
}

func (c *studentCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field names of the named Student attributes, as they appear in JSON and in stored documents.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldEmail     = "email"
	FieldGrade     = "grade"
	FieldAge       = "age"
	FieldCourse    = "course"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

var namedFields = map[string]struct{}{
	FieldID:        {},
	FieldName:      {},
	FieldEmail:     {},
	FieldGrade:     {},
	FieldAge:       {},
	FieldCourse:    {},
	FieldCreatedAt: {},
	FieldUpdatedAt: {},
}

// IsNamedField reports whether key is one of the Student attributes with its own struct field.
func IsNamedField(key string) bool {
	_, ok := namedFields[key]
	return ok
}

// CheckExtensionKey rejects keys that cannot name an extension attribute: the empty key,
// named fields, the store's "_id", operator-like "$" prefixes and dotted paths.
func CheckExtensionKey(key string) error {
	if key == "" || key == "_id" || strings.HasPrefix(key, "$") || strings.Contains(key, ".") || IsNamedField(key) {
		return fmt.Errorf("%w: %q cannot be used as an extension attribute", ErrInvalidStudent, key)
	}
	return nil
}

// Student is a student record. Attributes without a named field are kept in Extra and are
// flattened into the top-level JSON object on the wire.
type Student struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Email     string                 `json:"email,omitempty"`
	Grade     *float64               `json:"grade,omitempty"`
	Age       *int                   `json:"age,omitempty"`
	Course    string                 `json:"course,omitempty"`
	Extra     map[string]interface{} `json:"-"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Fields returns the record as a flat map, the shape used on the wire and by list filters.
// Named fields take precedence over Extra keys of the same name.
func (s *Student) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Extra)+8)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[FieldID] = s.ID
	out[FieldName] = s.Name
	if s.Email != "" {
		out[FieldEmail] = s.Email
	}
	if s.Grade != nil {
		out[FieldGrade] = *s.Grade
	}
	if s.Age != nil {
		out[FieldAge] = *s.Age
	}
	if s.Course != "" {
		out[FieldCourse] = s.Course
	}
	if !s.CreatedAt.IsZero() {
		out[FieldCreatedAt] = s.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !s.UpdatedAt.IsZero() {
		out[FieldUpdatedAt] = s.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// MarshalJSON flattens Extra into the record object.
func (s Student) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}

// UnmarshalJSON decodes named attributes into their fields and everything else into Extra.
func (s *Student) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var decoded Student
	for key, value := range raw {
		var err error
		switch key {
		case FieldID:
			err = json.Unmarshal(value, &decoded.ID)
		case FieldName:
			err = json.Unmarshal(value, &decoded.Name)
		case FieldEmail:
			err = json.Unmarshal(value, &decoded.Email)
		case FieldGrade:
			err = json.Unmarshal(value, &decoded.Grade)
		case FieldAge:
			err = json.Unmarshal(value, &decoded.Age)
		case FieldCourse:
			err = json.Unmarshal(value, &decoded.Course)
		case FieldCreatedAt:
			err = json.Unmarshal(value, &decoded.CreatedAt)
		case FieldUpdatedAt:
			err = json.Unmarshal(value, &decoded.UpdatedAt)
		default:
			var v interface{}
			err = json.Unmarshal(value, &v)
			if err == nil {
				if decoded.Extra == nil {
					decoded.Extra = make(map[string]interface{})
				}
				decoded.Extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}

	*s = decoded
	return nil
}

// Float64 and Int are small helpers for building optional fields.
func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }

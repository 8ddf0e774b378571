package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"students-registry/internal/students/domain/model"

	"github.com/tidwall/gjson"
)

// gjson path syntax the filter keys must not use.
const reservedPathChars = "*?#|@!\\"

// matcher evaluates an equality filter against the JSON form of a record, the same shape
// clients see, so dotted keys reach into nested extension attributes.
type matcher struct {
	filter model.Filter
}

func newMatcher(filter model.Filter) (*matcher, error) {
	for key := range filter {
		if key == "" || strings.ContainsAny(key, reservedPathChars) {
			return nil, fmt.Errorf("%w: unsupported field %q", model.ErrInvalidFilter, key)
		}
	}
	return &matcher{filter: filter}, nil
}

func (m *matcher) matches(s *model.Student) (bool, error) {
	if len(m.filter) == 0 {
		return true, nil
	}

	doc, err := json.Marshal(s.Fields())
	if err != nil {
		return false, err
	}
	for key, want := range m.filter {
		if !matchValue(gjson.GetBytes(doc, key), want) {
			return false, nil
		}
	}
	return true, nil
}

// matchValue follows document-store equality: a scalar also matches an array holding it,
// and nil matches a missing or null attribute.
func matchValue(got gjson.Result, want interface{}) bool {
	if alternatives, ok := want.(model.AnyOf); ok {
		for _, alt := range alternatives {
			if matchValue(got, alt) {
				return true
			}
		}
		return false
	}
	if want == nil {
		return !got.Exists() || got.Type == gjson.Null
	}
	if !got.Exists() {
		return false
	}

	if got.IsArray() && !isCollection(want) {
		for _, item := range got.Array() {
			if matchScalar(item, want) {
				return true
			}
		}
		return false
	}
	return matchScalar(got, want)
}

func matchScalar(got gjson.Result, want interface{}) bool {
	switch v := want.(type) {
	case string:
		return got.Type == gjson.String && got.Str == v
	case bool:
		return (got.Type == gjson.True || got.Type == gjson.False) && got.Bool() == v
	case float64:
		return got.Type == gjson.Number && got.Num == v
	case float32:
		return got.Type == gjson.Number && got.Num == float64(v)
	case int:
		return got.Type == gjson.Number && got.Num == float64(v)
	case int32:
		return got.Type == gjson.Number && got.Num == float64(v)
	case int64:
		return got.Type == gjson.Number && got.Num == float64(v)
	default:
		normalized, err := normalize(want)
		if err != nil {
			return false
		}
		return reflect.DeepEqual(got.Value(), normalized)
	}
}

func isCollection(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

// normalize converts v to the generic JSON value space gjson reports in.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

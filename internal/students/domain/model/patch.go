package model

import (
	"encoding/json"
	"fmt"
)

// Patch is a partial update. Nil pointers leave the field untouched. Extra sets extension
// attributes and Unset removes them.
type Patch struct {
	Name   *string
	Email  *string
	Grade  *float64
	Age    *int
	Course *string
	Extra  map[string]interface{}
	Unset  []string
}

// IsEmpty reports whether applying the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Grade == nil && p.Age == nil &&
		p.Course == nil && len(p.Extra) == 0 && len(p.Unset) == 0
}

// Apply writes the patch onto s. It does not touch ID or timestamps.
func (p Patch) Apply(s *Student) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Email != nil {
		s.Email = *p.Email
	}
	if p.Grade != nil {
		g := *p.Grade
		s.Grade = &g
	}
	if p.Age != nil {
		a := *p.Age
		s.Age = &a
	}
	if p.Course != nil {
		s.Course = *p.Course
	}
	if len(p.Extra) > 0 && s.Extra == nil {
		s.Extra = make(map[string]interface{}, len(p.Extra))
	}
	for k, v := range p.Extra {
		s.Extra[k] = v
	}
	for _, k := range p.Unset {
		delete(s.Extra, k)
	}
}

// UnmarshalJSON reads a JSON object where named attributes map to their fields and any
// other key sets an extension attribute; a null extension value unsets it.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var decoded Patch
	for key, value := range raw {
		var err error
		switch key {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			return fmt.Errorf("field %q is read-only", key)
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
		default:
			var v interface{}
			if err = json.Unmarshal(value, &v); err != nil {
				break
			}
			if v == nil {
				decoded.Unset = append(decoded.Unset, key)
				continue
			}
			if decoded.Extra == nil {
				decoded.Extra = make(map[string]interface{})
			}
			decoded.Extra[key] = v
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}

	*p = decoded
	return nil
}

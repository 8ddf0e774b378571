package model

import (
	"math"
	"strconv"
	"strings"
)

// Filter is an equality predicate: every key must match its value. The key "id" addresses
// the record identifier; dotted keys address nested extension attributes.
type Filter map[string]interface{}

// AnyOf is a filter value matching when the attribute equals any one of its alternatives.
type AnyOf []interface{}

// ByID returns a filter matching a single identifier.
func ByID(id string) Filter {
	return Filter{FieldID: id}
}

// ID returns the identifier the filter pins, if any.
func (f Filter) ID() (string, bool) {
	v, ok := f[FieldID]
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// ParseFilterValue converts a raw query-string value into the type stored for field.
// Numeric named fields become numbers and the other named fields stay strings. Extension
// attributes have no declared type, so a value that reads as a boolean or a number yields
// an AnyOf holding both the raw string and the converted value.
func ParseFilterValue(field, raw string) interface{} {
	switch field {
	case FieldGrade:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case FieldAge:
		if i, err := strconv.Atoi(raw); err == nil {
			return i
		}
		return raw
	case FieldID, FieldName, FieldEmail, FieldCourse, FieldCreatedAt, FieldUpdatedAt:
		return raw
	}

	switch strings.ToLower(raw) {
	case "true":
		return AnyOf{raw, true}
	case "false":
		return AnyOf{raw, false}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return AnyOf{raw, f}
	}
	return raw
}

package utils

import (
	"context"
	"errors"

	"students-registry/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrRequestIDNotFound  = errors.New("requestID not found in context")
	ErrRequestIDNotString = errors.New("requestID in context is not a string")
	ErrStudentIDNotFound  = errors.New("studentID not found in context")
	ErrStudentIDNotString = errors.New("studentID in context is not a string")
)

func stringValue(ctx context.Context, key interface{}, missing, wrongType error) (string, error) {
	val := ctx.Value(key)
	if val == nil {
		return "", missing
	}
	s, ok := val.(string)
	if !ok {
		return "", wrongType
	}
	return s, nil
}

// GetRequestIDFromContext retrieves the request ID from the context.
func GetRequestIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.RequestIDKey, ErrRequestIDNotFound, ErrRequestIDNotString)
}

// GetStudentIDFromContext retrieves the addressed student ID from the context.
func GetStudentIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.StudentIDKey, ErrStudentIDNotFound, ErrStudentIDNotString)
}

// Context builder functions

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
}

// WithStudentID adds the addressed student ID to context
func WithStudentID(ctx context.Context, studentID string) context.Context {
	return context.WithValue(ctx, contextkeys.StudentIDKey, studentID)
}

// WithComponent adds component name to context
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, contextkeys.ComponentKey, component)
}

// WithOperation adds operation name to context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, contextkeys.OperationKey, operation)
}

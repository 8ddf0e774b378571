package usecase

import (
	"strings"

	apperrors "students-registry/internal/shared/errors"
	"students-registry/internal/students/domain/model"
)

const (
	maxNameLength = 200
	maxListLimit  = 1000

	minGrade, maxGrade = 0, 100
	minAge, maxAge     = 0, 150
)

// validateStudent checks a record about to be inserted.
func validateStudent(student *model.Student) error {
	ve := apperrors.NewValidationErrors()
	if student == nil {
		return ve.Add("student", "student body is required", nil).ToAppError()
	}

	checkName(ve, student.Name)
	checkEmail(ve, student.Email)
	checkGrade(ve, student.Grade)
	checkAge(ve, student.Age)
	for key := range student.Extra {
		checkExtensionKey(ve, key)
	}

	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}

// validatePatch checks only the attributes a patch touches.
func validatePatch(patch model.Patch) error {
	ve := apperrors.NewValidationErrors()
	if patch.IsEmpty() {
		return ve.Add("patch", "no fields to update", nil).ToAppError()
	}

	if patch.Name != nil {
		checkName(ve, *patch.Name)
	}
	if patch.Email != nil {
		checkEmail(ve, *patch.Email)
	}
	checkGrade(ve, patch.Grade)
	checkAge(ve, patch.Age)
	for key := range patch.Extra {
		checkExtensionKey(ve, key)
	}
	for _, key := range patch.Unset {
		checkExtensionKey(ve, key)
	}

	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}

func checkName(ve *apperrors.ValidationErrors, name string) {
	switch trimmed := strings.TrimSpace(name); {
	case trimmed == "":
		ve.Add(model.FieldName, "name is required", name)
	case len(name) > maxNameLength:
		ve.Add(model.FieldName, "name must be at most 200 characters", len(name))
	}
}

func checkEmail(ve *apperrors.ValidationErrors, email string) {
	if email != "" && !strings.Contains(email, "@") {
		ve.Add(model.FieldEmail, "email must contain @", email)
	}
}

func checkGrade(ve *apperrors.ValidationErrors, grade *float64) {
	if grade != nil && (*grade < minGrade || *grade > maxGrade) {
		ve.Add(model.FieldGrade, "grade must be between 0 and 100", *grade)
	}
}

func checkAge(ve *apperrors.ValidationErrors, age *int) {
	if age != nil && (*age < minAge || *age > maxAge) {
		ve.Add(model.FieldAge, "age must be between 0 and 150", *age)
	}
}

// checkExtensionKey applies the same key rules every store enforces.
func checkExtensionKey(ve *apperrors.ValidationErrors, key string) {
	if err := model.CheckExtensionKey(key); err != nil {
		ve.Add(key, "attribute name is reserved", key)
	}
}

func validateListRequest(req ListStudentsRequest) error {
	if req.Limit < 0 || req.Limit > maxListLimit {
		return apperrors.NewValidationErrors().
			Add("limit", "limit must be between 0 and 1000", req.Limit).
			ToAppError()
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationErrors().Add(model.FieldID, "id is required", id).ToAppError()
	}
	return nil
}

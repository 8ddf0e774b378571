package usecase

import (
	"fmt"
	"reflect"
	"sync"

	"students-registry/internal/students/domain/model"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

const (
	studentVariable     = "student"
	maxCachedPrograms   = 256
	maxExpressionLength = 2048
)

// ExpressionFilter compiles CEL list filters such as
//
//	student.grade >= 80 && student.course == "Math"
//
// and caches the resulting programs by source text.
type ExpressionFilter struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewExpressionFilter creates the CEL environment with a single `student` map variable.
func NewExpressionFilter() (*ExpressionFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable(studentVariable, cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &ExpressionFilter{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile returns a predicate for expr. Syntax and type errors wrap model.ErrInvalidFilter.
func (f *ExpressionFilter) Compile(expr string) (func(*model.Student) bool, error) {
	prg, err := f.program(expr)
	if err != nil {
		return nil, err
	}

	return func(s *model.Student) bool {
		out, _, err := prg.Eval(map[string]interface{}{studentVariable: s.Fields()})
		if err != nil {
			// missing keys and type mismatches exclude the record
			return false
		}
		matched, ok := out.(types.Bool)
		return ok && bool(matched)
	}, nil
}

func (f *ExpressionFilter) program(expr string) (cel.Program, error) {
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("%w: expression longer than %d characters", model.ErrInvalidFilter, maxExpressionLength)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if prg, ok := f.programs[expr]; ok {
		return prg, nil
	}

	ast, iss := f.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidFilter, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expression must evaluate to bool, got %s", model.ErrInvalidFilter, out)
	}

	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidFilter, err)
	}

	if len(f.programs) >= maxCachedPrograms {
		f.programs = make(map[string]cel.Program)
	}
	f.programs[expr] = prg
	return prg, nil
}

// matchesFields reports whether every filter entry equals the record's attribute of the same
// name. Numbers compare by value regardless of their Go type.
func matchesFields(student *model.Student, filter model.Filter) bool {
	if len(filter) == 0 {
		return true
	}
	fields := student.Fields()
	for key, want := range filter {
		got, ok := fields[key]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func anyEqual(got interface{}, alternatives model.AnyOf) bool {
	for _, alt := range alternatives {
		if valuesEqual(got, alt) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if alternatives, ok := b.(model.AnyOf); ok {
		return anyEqual(a, alternatives)
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

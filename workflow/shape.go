package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/types"
)

// ShapeError lists the schema violations of a step payload.
type ShapeError struct {
	StepID     string
	Direction  string // "input" or "output"
	Violations []structured.ParseError
}

func (e *ShapeError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Error())
	}
	return fmt.Sprintf("%s violations: %s", e.Direction, strings.Join(parts, "; "))
}

func newShapeError(stepID, direction string, err error) *types.Error {
	shape := &ShapeError{StepID: stepID, Direction: direction}
	var ve *structured.ValidationErrors
	if errors.As(err, &ve) {
		shape.Violations = ve.Errors
	} else {
		shape.Violations = []structured.ParseError{{Message: err.Error()}}
	}
	return types.Errorf(types.ErrInvalidShape, "%s does not match schema", direction).
		WithStep(stepID).
		WithCause(shape)
}

// AsShapeError extracts the schema violations from an INVALID_SHAPE error.
func AsShapeError(err error) (*ShapeError, bool) {
	var shape *ShapeError
	if errors.As(err, &shape) {
		return shape, true
	}
	return nil, false
}

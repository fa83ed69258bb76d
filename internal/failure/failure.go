// Package failure defines the typed error taxonomy of the DRASTIC pipeline.
package failure

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InputValidation    Kind = "input_validation"
	MappingFile        Kind = "mapping_file"
	LayerLoad          Kind = "layer_load"
	GridMismatch       Kind = "grid_mismatch"
	Rasterize          Kind = "rasterize"
	Interpolation      Kind = "interpolation"
	Slope              Kind = "slope"
	OverlayComputation Kind = "overlay_computation"
	Cancelled          Kind = "cancelled"
)

// Error is a classified failure raised by one pipeline stage.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	var inner *Error
	if e.Stage != "" && errors.As(e.Err, &inner) {
		// The wrapped chain already names the kind.
		return fmt.Sprintf("[stage %s] %v", e.Stage, e.Err)
	}
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [stage %s]: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New classifies err as kind. A nil err yields a generic message so the
// returned error is never empty.
func New(kind Kind, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Err: err}
}

// Newf classifies a formatted message as kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// WithStage tags err with the stage it came from. The tag wraps err whole,
// so any context added to the chain survives. Errors that already carry a
// stage keep it; unclassified errors are returned unchanged.
func WithStage(err error, stage string) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	if fe.Stage != "" {
		return err
	}
	return &Error{Kind: fe.Kind, Stage: stage, Err: err}
}

// Is reports whether err (or any error in its chain) is a failure of kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == kind
}

// KindOf returns the kind of the first classified error in the chain, or ""
// when err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StageOf returns the stage recorded on err, or "".
func StageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}

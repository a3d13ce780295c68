package taskgraph

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors. Typed errors below wrap one of these so callers can use
// errors.Is for the category and errors.As for the details.
var (
	// ErrSchemaViolation is returned when a task specification field is malformed.
	ErrSchemaViolation = errors.New("taskgraph: schema violation")

	// ErrResolution is returned when a node implementation cannot be resolved.
	ErrResolution = errors.New("taskgraph: resolution failed")

	// ErrTypeMismatch is returned when the static pass finds incompatible contracts.
	ErrTypeMismatch = errors.New("taskgraph: type mismatch")

	// ErrUnknownDependency is returned when a task depends on an id that is not in the graph.
	ErrUnknownDependency = errors.New("taskgraph: unknown dependency")

	// ErrComputation is returned when a node fails while processing data.
	ErrComputation = errors.New("taskgraph: computation failed")

	// ErrDuplicateID is returned when two tasks share an id.
	ErrDuplicateID = errors.New("taskgraph: duplicate task id")

	// ErrCycle is returned when the dependency relation is not acyclic.
	ErrCycle = errors.New("taskgraph: dependency cycle")

	// ErrUnknownNode is returned when a requested output id is not in the graph.
	ErrUnknownNode = errors.New("taskgraph: node not found")
)

// SchemaViolationError names the offending field of a task specification.
type SchemaViolationError struct {
	TaskID string
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%v: field %q: %s", ErrSchemaViolation, e.Field, e.Reason)
	}
	return fmt.Sprintf("%v: task %q field %q: %s", ErrSchemaViolation, e.TaskID, e.Field, e.Reason)
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// ResolutionError carries the task id and the location that was searched.
type ResolutionError struct {
	TaskID   string
	Location string
	Err      error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%v: task %q in %s", ErrResolution, e.TaskID, e.Location)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// TypeMismatchError reports a contract a node could not satisfy from its producers.
type TypeMismatchError struct {
	TaskID   string
	Producer string
	Column   string
	Reason   string
	Err      error
}

func (e *TypeMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: task %q", ErrTypeMismatch, e.TaskID)
	if e.Producer != "" {
		fmt.Fprintf(&b, " from %q", e.Producer)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *TypeMismatchError) Unwrap() error { return e.Err }

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// UnknownDependencyError names the referencing task and the missing dependency.
type UnknownDependencyError struct {
	TaskID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%v: task %q depends on %q", ErrUnknownDependency, e.TaskID, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }

// ComputationError wraps the failure of a node's Process step.
type ComputationError struct {
	TaskID string
	Err    error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%v: task %q: %v", ErrComputation, e.TaskID, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

func (e *ComputationError) Is(target error) bool { return target == ErrComputation }

// CycleError lists the task ids that close a dependency loop.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// DuplicateIDError names an id shared by two tasks.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%v: %q", ErrDuplicateID, e.ID)
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// UnknownNodeError names an id that is not in the graph.
type UnknownNodeError struct {
	ID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownNode, e.ID)
}

func (e *UnknownNodeError) Unwrap() error { return ErrUnknownNode }

// isTaxonomyError reports whether err already belongs to one of the
// categories above, so callers do not wrap it twice.
func isTaxonomyError(err error) bool {
	for _, target := range []error{
		ErrSchemaViolation, ErrResolution, ErrTypeMismatch,
		ErrUnknownDependency, ErrComputation, ErrCycle,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

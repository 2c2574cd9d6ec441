package types

import (
	"errors"
	"fmt"
)

// ParseError means command output did not have the expected shape.
type ParseError struct {
	// Source names the command or file whose output was parsed
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s output: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ResolutionError means a query found no entity where one was expected.
type ResolutionError struct {
	Device string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %s", e.Device, e.Reason)
}

// TopologyError wraps the execution or parse failure behind a topology query.
type TopologyError struct {
	Op     string
	Device string
	Err    error
}

func (e *TopologyError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

func IsResolutionError(err error) bool {
	var resolutionErr *ResolutionError
	return errors.As(err, &resolutionErr)
}

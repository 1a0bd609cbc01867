package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies recoverable pipeline failures.
type ErrorKind string

const (
	// ErrKindNetwork: service unreachable or non-success status. Reported as a warning.
	ErrKindNetwork ErrorKind = "network"
	// ErrKindParse: malformed payload or field. Skipped silently.
	ErrKindParse ErrorKind = "parse"
	// ErrKindMissingData: service answered but a value is null. Not reported.
	ErrKindMissingData ErrorKind = "missing_data"
)

var (
	// ErrEmptyTrack is returned when there are no points to analyse.
	ErrEmptyTrack = errors.New("track has no points")
	// ErrInvalidParams is wrapped by parameter validation failures.
	ErrInvalidParams = errors.New("invalid analysis parameters")
	// ErrAnalysisNotFound is returned when a finished analysis is no longer cached.
	ErrAnalysisNotFound = errors.New("analysis not found")
	// ErrBrokerUnavailable is returned when queuing is requested without a broker.
	ErrBrokerUnavailable = errors.New("asynchronous analysis requires a message broker")
)

// QueryError is returned by external data sources.
type QueryError struct {
	Service    string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s error (HTTP %d): %v", e.Service, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Service, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, defaulting to network.
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ErrKindNetwork
}

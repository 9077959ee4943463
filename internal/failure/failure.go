// Package failure holds the error taxonomy shared by every pipeline stage.
//
// Components wrap their own errors with context and mark them with one of the
// sentinels below, so callers can classify a failure with errors.Is without
// string matching.
package failure

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrGeocode: the resolver got no usable result or the lookup failed. Fatal for the run.
	ErrGeocode = errors.New("geocode error")
	// ErrNetwork: HTTP transport failure (connect, timeout, open breaker).
	ErrNetwork = errors.New("network error")
	// ErrExtraction: a source probed healthy but the data fetch failed.
	ErrExtraction = errors.New("extraction error")
	// ErrSchema: a response is missing a field the record needs.
	ErrSchema = errors.New("schema error")
	// ErrStorage: container listing, creation or object write failed.
	ErrStorage = errors.New("storage error")
)

// Stage names a step of one pipeline branch.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageProbe     Stage = "probe"
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Mark wraps err with msg and tags it with kind.
func Mark(err error, kind error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), kind)
}

// Newf creates a new error of the given kind.
func Newf(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

// Kind returns the taxonomy sentinel err was marked with, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrGeocode, ErrExtraction, ErrSchema, ErrStorage, ErrNetwork} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

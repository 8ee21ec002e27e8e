package engine

import (
	"errors"

	"github.com/splitproxy/splitproxy/internal/resolver"
)

// Per-connection failure modes. Any of these tears down the one connection
// that hit it; the process keeps serving.
var (
	errNotHTTP  = errors.New("not an HTTP GET request")
	errParse    = errors.New("unable to parse request head")
	errInternal = errors.New("internal connection state error")
)

// errorReason buckets a teardown error for metrics.
func errorReason(err error) string {
	switch {
	case errors.Is(err, errNotHTTP):
		return "not_http"
	case errors.Is(err, errParse):
		return "parse"
	case errors.Is(err, resolver.ErrResolve):
		return "resolve"
	case errors.Is(err, errInternal):
		return "internal"
	default:
		return "io"
	}
}

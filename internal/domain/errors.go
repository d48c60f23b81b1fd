package domain

import "errors"

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnsupported     = errors.New("cannot consume producer with given capabilities")
	ErrNoRecvTransport = errors.New("no receive transport")
	ErrEngineFailure   = errors.New("media engine failure")
	ErrWorkerDied      = errors.New("worker died")
	ErrNoWorker        = errors.New("no live worker")
	ErrRateLimited     = errors.New("rate limited")
	ErrBadPayload      = errors.New("bad payload")
	ErrNotInRoom       = errors.New("not in a room")
)

// ErrorCode maps an error to the code sent over the wire.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNoRecvTransport):
		return "no_recv_transport"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotInRoom):
		return "not_found"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrEngineFailure), errors.Is(err, ErrWorkerDied), errors.Is(err, ErrNoWorker):
		return "engine_failure"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	default:
		return "internal"
	}
}

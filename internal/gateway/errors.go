package gateway

import (
	"errors"
	"net/http"

	"sdlq/internal/history"
	"sdlq/internal/sdl"
)

// httpStatusFromError maps client and store errors to HTTP status codes.
// Upstream faults (transport, bad status, malformed body) are 502 because
// the gateway relayed a request the service could not serve; an exhausted
// poll budget is 504.
func httpStatusFromError(err error) int {
	var precondition *sdl.PreconditionError
	var timeout *sdl.TimeoutError
	var transport *sdl.TransportError
	var status *sdl.StatusError
	var malformed *sdl.MalformedResponseError
	var notFound *history.NotFoundError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &precondition):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &transport), errors.As(err, &status), errors.As(err, &malformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

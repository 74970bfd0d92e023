package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/libp2p/go-libp2p/core/routing"
)

// ValidationError is a local request failure. It never reaches the engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid argument %q", e.Field)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// statusFor maps a failure to an HTTP status. Lookup failure maps to 404
// only where the caller allows it (find-peer); everything else that is not
// a validation failure is a server error carrying the original message.
func statusFor(err error, allowNotFound bool) int {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case allowNotFound && errors.Is(err, routing.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err and writes the failure response. Nothing is
// written if the client context is already gone; there is no receiver left.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error, allowNotFound bool) {
	select {
	case <-r.Context().Done():
		return
	default:
	}
	http.Error(w, err.Error(), statusFor(err, allowNotFound))
}

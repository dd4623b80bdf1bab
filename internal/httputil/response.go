package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"beam/internal/errors"
)

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error":{"code","message"}} body for err.
// Rate limit errors also carry a Retry-After header.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	WriteJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err))
}

package httpapi

import "net/http"

// envelope is the `{success, data?, error?}` JSON shape spec §4.8
// requires of every non-ingest response.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(data interface{}) envelope {
	return envelope{Success: true, Data: data}
}

func fail(message string) envelope {
	return envelope{Success: false, Error: message}
}

// statusForError maps a handler-layer error to the HTTP status spec §7
// assigns its taxonomy.
func statusForError(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case isValidation(err):
		return http.StatusBadRequest
	case isBackpressure(err):
		return http.StatusServiceUnavailable
	case isGraphTooLarge(err):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

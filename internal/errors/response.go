package errors

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON body written for a failed request.
type Response struct {
	Error   *AppError `json:"error"`
	EventID string    `json:"eventId,omitempty"`
}

// WriteJSON writes err as an AppError response. Errors that are not an
// AppError are reported as internal errors without leaking their message.
func WriteJSON(w http.ResponseWriter, err error, eventID string) {
	appErr, ok := As(err)
	if !ok {
		appErr = NewInternalError("Internal server error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(Response{Error: appErr, EventID: eventID})
}

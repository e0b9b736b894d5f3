package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("handler: %w", NewValidationError("Email is invalid", "INVALID_EMAIL", "Check the address"))

	WriteJSON(rec, err, "abc123")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body struct {
		Error   AppError `json:"error"`
		EventID string   `json:"eventId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.ErrorCode != "INVALID_EMAIL" {
		t.Errorf("expected INVALID_EMAIL, got %q", body.Error.ErrorCode)
	}
	if body.Error.Recovery != "Check the address" {
		t.Errorf("unexpected recovery suggestion %q", body.Error.Recovery)
	}
	if body.EventID != "abc123" {
		t.Errorf("expected event id abc123, got %q", body.EventID)
	}
}

func TestWriteJSON_PlainErrorIsHidden(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteJSON(rec, errors.New("pq: password authentication failed"), "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg := body["error"]["message"]; msg != "Internal server error" {
		t.Errorf("internal message leaked: %v", msg)
	}
	if _, ok := body["eventId"]; ok {
		t.Error("eventId should be omitted when empty")
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	apperrors "github.com/socialchef/beacon/internal/errors"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/validation"
)

const (
	maxMemoryMB       = 256
	memoryWarnBytes   = 128 << 20
	defaultSlowMillis = 500
	maxSlowMillis     = 10_000
)

func (s *Server) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload validation.SignupPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.hub.AddBreadcrumb(ctx, observe.Breadcrumb{
			Category: "validation",
			Message:  "Request body is not valid JSON",
			Level:    observe.LevelWarning,
		})
		appErr := apperrors.NewValidationError("Invalid request body", "INVALID_JSON", "Send a JSON object.")
		id := s.hub.CaptureMessage(ctx, "Validation failed: invalid JSON", observe.LevelWarning)
		apperrors.WriteJSON(w, appErr, string(id))
		return
	}

	result := validation.ValidateSignup(payload)
	if result.IsValid {
		writeJSON(w, http.StatusOK, result)
		return
	}

	for _, fe := range result.Errors {
		s.hub.AddBreadcrumb(ctx, observe.Breadcrumb{
			Category: "validation",
			Message:  fe.Message,
			Level:    observe.LevelWarning,
			Data:     map[string]any{"field": fe.Field, "rule": fe.Rule},
		})
	}
	id := s.hub.CaptureMessage(ctx,
		fmt.Sprintf("Validation failed: %d error(s)", len(result.Errors)),
		observe.LevelWarning,
		observe.WithExtra("errors", result.Errors),
	)
	appErr := apperrors.NewValidationError(result.Errors[0].Message, "VALIDATION_FAILED", "Fix the listed fields and resubmit.")
	apperrors.WriteJSON(w, appErr, string(id))
}

type MemoryReport struct {
	AllocatedMB int    `json:"allocatedMb"`
	HeapAlloc   uint64 `json:"heapAlloc"`
	HeapSys     uint64 `json:"heapSys"`
	NumGC       uint32 `json:"numGc"`
	EventID     string `json:"eventId,omitempty"`
}

// HandleMemory allocates ?mb= megabytes and reports heap statistics,
// capturing a warning when the heap is over the threshold.
func (s *Server) HandleMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mb, err := queryInt(r, "mb", 10)
	if err != nil || mb < 0 {
		apperrors.WriteJSON(w, apperrors.NewValidationError("mb must be a non-negative integer", "INVALID_MB", ""), "")
		return
	}
	mb = min(mb, maxMemoryMB)

	buf := make([]byte, mb<<20)
	for i := 0; i < len(buf); i += 4096 {
		buf[i] = 1
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	runtime.KeepAlive(buf)

	report := MemoryReport{
		AllocatedMB: mb,
		HeapAlloc:   stats.HeapAlloc,
		HeapSys:     stats.HeapSys,
		NumGC:       stats.NumGC,
	}
	s.hub.SetExtra(ctx, "memory", report)

	if stats.HeapAlloc > memoryWarnBytes {
		report.EventID = string(s.hub.CaptureMessage(ctx, "High memory usage", observe.LevelWarning,
			observe.WithTag("alert", "memory")))
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleSlow spends ?ms= milliseconds in two child spans.
func (s *Server) HandleSlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ms, err := queryInt(r, "ms", defaultSlowMillis)
	if err != nil || ms < 0 {
		apperrors.WriteJSON(w, apperrors.NewValidationError("ms must be a non-negative integer", "INVALID_MS", ""), "")
		return
	}
	ms = min(ms, maxSlowMillis)
	start := time.Now()

	half := time.Duration(ms) * time.Millisecond / 2
	steps := []struct{ op, description string }{
		{"db.query", "SELECT pg_sleep"},
		{"http.client", "GET downstream"},
	}
	for _, step := range steps {
		span := s.hub.StartSpan(ctx, step.op, step.description)
		if err := sleep(ctx, half); err != nil {
			span.FinishWithStatus(observe.SpanStatusCancelled)
			return
		}
		span.FinishWithStatus(observe.SpanStatusOK)
	}

	writeJSON(w, http.StatusOK, map[string]int64{"elapsedMs": time.Since(start).Milliseconds()})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type FeedbackRequest struct {
	EventID  string `json:"event_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Comments string `json:"comments"`
}

func (s *Server) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteJSON(w, apperrors.NewValidationError("Invalid request body", "INVALID_JSON", "Send a JSON object."), "")
		return
	}
	if req.Comments == "" {
		apperrors.WriteJSON(w, apperrors.NewValidationError("comments is required", "MISSING_COMMENTS", ""), "")
		return
	}

	id := s.hub.CaptureFeedback(r.Context(), observe.Feedback{
		EventID:  observe.EventID(req.EventID),
		Name:     req.Name,
		Email:    req.Email,
		Comments: req.Comments,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

// HandleLastEvent reports the last event id of this request. With
// ?capture=1 a probe message is captured first.
func (s *Server) HandleLastEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Get("capture") != "" {
		s.hub.CaptureMessage(ctx, "debug probe", observe.LevelDebug)
	}
	writeJSON(w, http.StatusOK, map[string]string{"eventId": string(s.hub.LastEventID(ctx))})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/socialchef/beacon/internal/errors"
	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/worker"
)

func (s *Server) HandleHome(w http.ResponseWriter, r *http.Request) {
	s.hub.AddBreadcrumb(r.Context(), observe.Breadcrumb{
		Category: "route",
		Message:  "User accessed home page",
		Level:    observe.LevelInfo,
	})
	w.Write([]byte("Hello from Go + beacon!"))
}

// HandleError records two breadcrumbs and panics; the observe middleware
// captures the panic together with them.
func (s *Server) HandleError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.hub.AddBreadcrumb(ctx, observe.Breadcrumb{
		Category: "custom",
		Message:  "About to throw a test error",
		Level:    observe.LevelWarning,
	})
	s.hub.AddBreadcrumb(ctx, observe.Breadcrumb{
		Category: "user",
		Message:  "Simulated user ID: 1234",
		Level:    observe.LevelInfo,
		Data:     map[string]any{"user_id": 1234, "action": "trigger_error"},
	})

	panic(errors.New("Test error with breadcrumbs"))
}

func (s *Server) HandleSyncError(w http.ResponseWriter, r *http.Request) {
	err := apperrors.NewInternalError("Synchronous operation failed", errors.New("sync failure"))
	id := s.hub.CaptureException(r.Context(), err, observe.WithTag("error.kind", "sync"))
	apperrors.WriteJSON(w, err, string(id))
}

type AsyncResult struct {
	Tasks    int      `json:"tasks"`
	Failed   int      `json:"failed"`
	EventIDs []string `json:"eventIds,omitempty"`
}

const asyncTasks = 4

// HandleAsyncError runs tasks concurrently, each in its own scope, and
// captures every failure.
func (s *Server) HandleAsyncError(w http.ResponseWriter, r *http.Request) {
	var (
		mu  sync.Mutex
		ids []string
	)

	errs := worker.RunParallel(r.Context(), asyncTasks, 0, func(ctx context.Context, i int) error {
		return s.hub.WithScope(ctx, func(ctx context.Context, scope *observe.Scope) error {
			scope.SetTag("task.index", fmt.Sprint(i))
			span := s.hub.StartSpan(ctx, "task", fmt.Sprintf("async task %d", i))

			err := simulateTask(ctx, i)
			if err == nil {
				span.FinishWithStatus(observe.SpanStatusOK)
				return nil
			}
			span.FinishWithStatus(observe.SpanStatusDeadlineExceeded)
			id := s.hub.CaptureException(ctx, err, observe.WithTag("error.kind", "async"))
			mu.Lock()
			ids = append(ids, string(id))
			mu.Unlock()
			return err
		})
	})

	failed := worker.CountFailed(errs)
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, AsyncResult{Tasks: asyncTasks, Failed: failed, EventIDs: ids})
}

// simulateTask fails every odd task with a timeout.
func simulateTask(ctx context.Context, i int) error {
	select {
	case <-time.After(time.Duration(i+1) * 5 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	if i%2 == 1 {
		return apperrors.NewTimeoutError(fmt.Sprintf("Async task %d timed out", i), "ASYNC_TIMEOUT", context.DeadlineExceeded)
	}
	return nil
}

func (s *Server) HandleDatabaseError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const query = "SELECT id FROM missing_table"

	span := s.hub.StartSpan(ctx, "db.query", query)
	var err error
	if s.db != nil {
		_, err = s.db.Exec(ctx, query)
	} else {
		err = &pgconn.PgError{
			Severity: "ERROR",
			Code:     "42P01",
			Message:  `relation "missing_table" does not exist`,
		}
	}
	if err == nil {
		span.FinishWithStatus(observe.SpanStatusOK)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	span.FinishWithStatus(observe.SpanStatusInternalError)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.hub.SetExtra(ctx, "db.sqlstate", pgErr.Code)
	}
	appErr := apperrors.NewDatabaseError("Database query failed", "DB_QUERY_FAILED", err)
	id := s.hub.CaptureException(ctx, appErr, observe.WithTag("error.kind", "database"))
	apperrors.WriteJSON(w, appErr, string(id))
}

func (s *Server) HandleFilesystemError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := filepath.Join(s.cfg.DataDir, "beacon-missing-file.json")

	_, err := os.ReadFile(path)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	appErr := apperrors.NewFilesystemError("Failed to read data file", "FS_READ_FAILED", err)
	id := s.hub.CaptureException(ctx, appErr,
		observe.WithTag("error.kind", "filesystem"),
		observe.WithExtra("path", path),
	)
	apperrors.WriteJSON(w, appErr, string(id))
}

func (s *Server) HandleNetworkError(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.DownstreamURL, nil)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.NewInternalError("Invalid downstream URL", err), "")
		return
	}

	resp, err := s.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 400 {
			writeJSON(w, http.StatusOK, map[string]int{"downstreamStatus": resp.StatusCode})
			return
		}
		err = fmt.Errorf("downstream responded with status %d", resp.StatusCode)
	}

	appErr := apperrors.NewNetworkError("Downstream request failed", "DOWNSTREAM_UNAVAILABLE", err)
	if errors.Is(err, context.DeadlineExceeded) {
		appErr = apperrors.NewTimeoutError("Downstream request timed out", "DOWNSTREAM_TIMEOUT", err)
	}
	id := s.hub.CaptureException(r.Context(), appErr,
		observe.WithTag("error.kind", "network"),
		observe.WithExtra("downstream", s.cfg.DownstreamURL),
	)
	apperrors.WriteJSON(w, appErr, string(id))
}

// HandleUnhandledError panics on a background goroutine. The panic is
// captured at fatal level and the request still completes.
func (s *Server) HandleUnhandledError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	done := s.hub.Go(ctx, func(ctx context.Context) {
		var payload map[string]string
		payload["reason"] = "unhandled"
	})
	<-done

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "background task crashed",
		"eventId": string(s.hub.LastEventID(ctx)),
	})
}

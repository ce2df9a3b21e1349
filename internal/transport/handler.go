package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/karthikpremaram/mills-new/internal/domain"
	"github.com/karthikpremaram/mills-new/internal/stream"

	"github.com/google/uuid"
)

type Usecase interface {
	Submit(ctx context.Context, input domain.TaskInput, idempotencyKey string) (domain.Task, error)
	Status(ctx context.Context, taskID string) (domain.Task, error)
	Cancel(ctx context.Context, taskID string) error
	Events(ctx context.Context, taskID string) (<-chan stream.Event, error)
}

type handler struct {
	maxBodyBytes int64
	usecase      Usecase
}

func NewHandler(uc Usecase) *handler {
	return &handler{
		maxBodyBytes: 1 << 20,
		usecase:      uc,
	}
}

type createRequest struct {
	Input domain.TaskInput `json:"input"`
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	logger := slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", "create"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("decode body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" {
		logger = logger.With(slog.String("idempotency_key", idempotencyKey))
	}

	t, err := h.usecase.Submit(r.Context(), req.Input, idempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Submit usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot create task")
		return
	}

	writeJSON(w, http.StatusAccepted, domain.CreateResponse{
		TaskID:  t.ID,
		State:   t.State,
		Percent: t.Percent,
		Links: domain.Links{
			Status: "/tasks/" + t.ID,
			Events: "/tasks/" + t.ID + "/events",
		},
	})
}

// task dispatches /tasks/{id} and /tasks/{id}/events.
func (h *handler) task(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	taskID, sub, _ := strings.Cut(rest, "/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.status(w, r, taskID)
	case sub == "" && r.Method == http.MethodDelete:
		h.cancel(w, r, taskID)
	case sub == "events" && r.Method == http.MethodGet:
		h.events(w, r, taskID)
	case sub == "" || sub == "events":
		writeError(w, http.StatusMethodNotAllowed, "")
	default:
		writeError(w, http.StatusNotFound, "")
	}
}

func (h *handler) status(w http.ResponseWriter, r *http.Request, taskID string) {
	t, err := h.usecase.Status(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("Status usecase",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := h.usecase.Cancel(r.Context(), taskID); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("Cancel usecase",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, domain.CancelResponse{
		Status: "cancelled",
		TaskID: taskID,
	})
}

// events streams task records as server-sent events until a terminal state
// is observed or the client goes away. A store failure mid-stream becomes a
// final error frame, never a broken response.
func (h *handler) events(w http.ResponseWriter, r *http.Request, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := h.usecase.Events(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("Events usecase",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		var frame []byte
		if ev.Err != nil {
			frame, _ = json.Marshal(domain.ErrorResponse{
				Error:   "stream_error",
				Message: "stream terminated unexpectedly",
			})
		} else {
			var merr error
			frame, merr = json.Marshal(ev.Task)
			if merr != nil {
				slog.Error("encode event", slog.String("error", merr.Error()))
				return
			}
		}

		if _, werr := w.Write(append(append([]byte("data: "), frame...), '\n', '\n')); werr != nil {
			return
		}
		flusher.Flush()

		if ev.Err != nil {
			return
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}

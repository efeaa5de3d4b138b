package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/podushkina/linkarchive/internal/jobs"
	"github.com/podushkina/linkarchive/internal/pipeline"
	"github.com/podushkina/linkarchive/internal/storage"
	"github.com/podushkina/linkarchive/internal/task"
)

const maxBodyBytes = 1 << 20

// Pipeline is the domain work the handler submits as tasks.
type Pipeline interface {
	AddLink(ctx context.Context, link, description string) (pipeline.Entry, error)
	Search(ctx context.Context, description string) (pipeline.SearchResult, error)
}

// Files serves archived content by CID.
type Files interface {
	Get(ctx context.Context, cid storage.CID) ([]byte, error)
}

type Handler struct {
	gateway      *jobs.Gateway
	pipeline     Pipeline
	files        Files
	pollInterval time.Duration
	codecs       *codecs
	validate     *validator.Validate
	logger       *zap.Logger
}

type Option func(*Handler)

// WithPollInterval sets the Retry-After hint sent while a task is running.
// Zero disables the header.
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) { h.pollInterval = d }
}

func WithFiles(f Files) Option {
	return func(h *Handler) { h.files = f }
}

func NewHandler(g *jobs.Gateway, p Pipeline, logger *zap.Logger, opts ...Option) (*Handler, error) {
	cs, err := newCodecs()
	if err != nil {
		return nil, fmt.Errorf("init codecs: %w", err)
	}
	h := &Handler{
		gateway:      g,
		pipeline:     p,
		pollInterval: time.Second,
		codecs:       cs,
		validate:     validator.New(),
		logger:       logger.Named("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type AddLinkRequest struct {
	Link        string `json:"link" validate:"required,url"`
	Description string `json:"description" validate:"required"`
}

type AcceptedResponse struct {
	ID       task.ID `json:"id"`
	Location string  `json:"location"`
}

type StatusResponse struct {
	Status task.Status     `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (h *Handler) AddLink(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.respondEnvelope(w, r, http.StatusBadRequest, err, nil)
		return
	}
	input := jobs.AsInput(body)

	var req AddLinkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondEnvelope(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), input)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondEnvelope(w, r, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err), input)
		return
	}

	id := h.gateway.Submit(r.URL.Path, input, func(ctx context.Context) (any, error) {
		return h.pipeline.AddLink(ctx, req.Link, req.Description)
	})
	h.respondAccepted(w, r, id)
}

// Search takes the query as the raw request body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.respondEnvelope(w, r, http.StatusBadRequest, err, nil)
		return
	}
	query := string(body)
	input, _ := json.Marshal(query)

	if strings.TrimSpace(query) == "" {
		h.respondEnvelope(w, r, http.StatusBadRequest, errors.New("search query is required"), input)
		return
	}

	id := h.gateway.Submit(r.URL.Path, input, func(ctx context.Context) (any, error) {
		return h.pipeline.Search(ctx, query)
	})
	h.respondAccepted(w, r, id)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	var t task.Task
	if ok {
		t, ok = h.gateway.Registry().Get(id)
	}
	if !ok {
		h.respond(w, r, http.StatusBadRequest, ErrorResponse{Error: "unknown task"})
		return
	}

	resp := StatusResponse{Status: t.Status}
	switch t.Status {
	case task.StatusCompleted:
		resp.Data = t.Result
	case task.StatusInProgress:
		if secs := retryAfter(h.pollInterval); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	h.respond(w, r, http.StatusOK, resp)
}

// CancelTask always answers 200; cancelling an unknown or finished task is
// not an error.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	cancelled := false
	if id, ok := parseID(r); ok {
		cancelled = h.gateway.Cancel(id)
	}
	h.respond(w, r, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

// GetFile returns the archived bytes recorded as an entry's cid.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		h.respond(w, r, http.StatusNotFound, ErrorResponse{Error: "unknown file"})
		return
	}

	data, err := h.files.Get(r.Context(), storage.CID(chi.URLParam(r, "cid")))
	if errors.Is(err, storage.ErrNotFound) {
		h.respond(w, r, http.StatusNotFound, ErrorResponse{Error: "unknown file"})
		return
	}
	if err != nil {
		h.logger.Error("failed to read file", zap.Error(err))
		h.respond(w, r, http.StatusInternalServerError, ErrorResponse{Error: "failed to read file"})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"tasks":  h.gateway.Registry().Len(),
	})
}

func TaskLocation(id task.ID) string {
	return "/tasks/" + strconv.FormatUint(uint64(id), 10)
}

func (h *Handler) respondAccepted(w http.ResponseWriter, r *http.Request, id task.ID) {
	loc := TaskLocation(id)
	w.Header().Set("Location", loc)
	h.respond(w, r, http.StatusAccepted, AcceptedResponse{ID: id, Location: loc})
}

func (h *Handler) respondEnvelope(w http.ResponseWriter, r *http.Request, status int, err error, input json.RawMessage) {
	h.logger.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
	h.respond(w, r, status, jobs.NewErrorEnvelope(err, input, r.URL.Path))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	codec := h.codecs.negotiate(r)
	body, err := codec.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

func parseID(r *http.Request) (task.ID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return task.ID(n), true
}

func retryAfter(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

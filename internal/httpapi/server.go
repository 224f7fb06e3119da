// Package httpapi exposes the deployment over HTTP: the OpenAI-compatible
// chat and model endpoints plus health, status and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatd/internal/serving"
	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Complete(ctx context.Context, req *types.ChatCompletionRequest) serving.Result
	ListModels(ctx context.Context) (types.ModelList, error)
	Status() types.StatusResponse
	// EnsureReady triggers the lazy facade build and waits for it up to ctx.
	EnsureReady(ctx context.Context) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	// text/event-stream is not in the default compressible set, so streams stay unbuffered
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Post("/v1/chat/completions", h.chatCompletions)
	r.Get("/v1/models", h.listModels)
	r.Get("/status", h.status)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// chatCompletions godoc
// @Summary      Create a chat completion
// @Description  Returns a chat.completion object, or a text/event-stream of chat.completion.chunk items when stream is true.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body      types.ChatCompletionRequest  true  "Chat completion request"
// @Success      200      {object}  types.ChatCompletionResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	start := time.Now()
	lvl := requestLogLevel(r)
	if lvl >= LevelInfo {
		zlog.Info().Str("request_id", middleware.GetReqID(r.Context())).Str("model", req.Model).Bool("stream", req.Stream).Int("messages", len(req.Messages)).Msg("chat start")
	}
	ctx, cancel := completionContext(r)
	defer cancel()

	res := h.svc.Complete(ctx, &req)
	switch res.Kind {
	case serving.KindError:
		if r.Context().Err() != nil {
			return
		}
		writeErrorBody(w, res.Error)
		logEnd(lvl, r, res.Error.Code, start, errors.New(res.Error.Message))
	case serving.KindBuffered:
		writeJSON(w, http.StatusOK, res.Completion)
		logEnd(lvl, r, http.StatusOK, start, nil)
	case serving.KindStreamed:
		writeStream(w, r, res.Stream, lvl, start)
	default:
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("unhandled result kind %s", res.Kind))
	}
}

// writeStream forwards frames in order, flushing after each one.
func writeStream(w http.ResponseWriter, r *http.Request, s *serving.Stream, lvl LogLevel, start time.Time) {
	defer s.Close()
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	out := io.Writer(w)
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: zlog, requestID: middleware.GetReqID(r.Context())})
	}
	for {
		f, err := s.Recv()
		if errors.Is(err, io.EOF) {
			logEnd(lvl, r, http.StatusOK, start, nil)
			return
		}
		if err != nil {
			reason := "error"
			switch {
			case errors.Is(err, context.Canceled):
				reason = "client_gone"
			case errors.Is(err, context.DeadlineExceeded):
				reason = "timeout"
			}
			incStreamAbort(reason)
			logEnd(lvl, r, http.StatusOK, start, err)
			return
		}
		if _, err := out.Write(f); err != nil {
			incStreamAbort("write")
			logEnd(lvl, r, http.StatusOK, start, err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// listModels godoc
// @Summary      List servable models
// @Description  Lists the base model followed by configured LoRA modules and prompt adapters.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelList
// @Failure      503  {object}  types.ErrorResponse
// @Router       /v1/models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListModels(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// status godoc
// @Summary      Deployment status
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// readyz triggers the lazy build and reports whether it has completed.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyWait)
	defer cancel()
	if err := h.svc.EnsureReady(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			_, _ = w.Write([]byte("loading"))
			return
		}
		_, _ = w.Write([]byte("not ready: " + err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func logEnd(lvl LogLevel, r *http.Request, status int, start time.Time, err error) {
	var z *zerolog.Event
	switch {
	case lvl >= LevelInfo:
		z = zlog.Info()
	case lvl >= LevelError && (status >= 500 || err != nil):
		z = zlog.Error()
	default:
		return
	}
	z = z.Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg("chat end")
}

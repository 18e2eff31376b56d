package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kalambet/alloyist/internal/pipeline"
)

const maxAssistantBodySize = 32 << 20 // 32MB, base64 attachments included

// CORS allow-lists sent with every assistant response.
const (
	corsAllowHeaders = "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token"
	corsAllowMethods = "POST,OPTIONS"
)

// Asker answers assistant requests. *pipeline.Assistant satisfies it.
type Asker interface {
	Handle(ctx context.Context, req pipeline.Request, opts pipeline.Options) (pipeline.Response, error)
}

// ErrorBody is the payload of a failed assistant call.
type ErrorBody struct {
	Error string `json:"error"`
	Trace string `json:"trace"`
}

// EventResponse is the envelope returned for a raw event.
type EventResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func responseHeaders(origin string) map[string]string {
	return map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  origin,
		"Access-Control-Allow-Headers": corsAllowHeaders,
		"Access-Control-Allow-Methods": corsAllowMethods,
	}
}

// CORS sets the assistant's CORS headers on every response.
func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverTrace turns a panic into a 500 carrying the panic value and stack.
func RecoverTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				slog.Error("assistant request panicked", "error", err)
				writeFailure(w, err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// DecodeRequest parses a request document. A missing message decodes as
// empty; fields of the wrong type are an error.
func DecodeRequest(raw []byte) (pipeline.Request, error) {
	var req pipeline.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return pipeline.Request{}, &pipeline.RequestError{Err: fmt.Errorf("decoding request: %w", err)}
	}
	return req, nil
}

// RequestFromEvent unwraps a raw event. An object with a "body" field is an
// API-Gateway style event whose body is a JSON string or object; any other
// object is the request itself; a bare JSON value becomes the message.
func RequestFromEvent(event []byte) (pipeline.Request, error) {
	var v any
	if err := json.Unmarshal(event, &v); err != nil {
		return pipeline.Request{}, &pipeline.RequestError{Err: fmt.Errorf("decoding event: %w", err)}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		if s, isString := v.(string); isString {
			return pipeline.Request{Message: s}, nil
		}
		return pipeline.Request{Message: string(event)}, nil
	}

	body, wrapped := obj["body"]
	if !wrapped {
		return DecodeRequest(event)
	}
	switch b := body.(type) {
	case string:
		return DecodeRequest([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return pipeline.Request{}, &pipeline.RequestError{Err: fmt.Errorf("re-encoding event body: %w", err)}
		}
		return DecodeRequest(raw)
	}
}

// HandleEvent answers one raw event and wraps the outcome in an envelope.
// Every failure, panics included, becomes a 500 with the error and a stack
// trace.
func HandleEvent(ctx context.Context, a Asker, origin string, event []byte) (resp EventResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			slog.Error("event handling panicked", "error", err)
			resp = failureEvent(origin, err)
		}
	}()

	req, err := RequestFromEvent(event)
	if err != nil {
		return failureEvent(origin, err)
	}
	out, err := a.Handle(ctx, req, pipeline.Options{})
	if err != nil {
		slog.Error("assistant request failed", "error", err)
		return failureEvent(origin, err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return failureEvent(origin, err)
	}
	return EventResponse{StatusCode: http.StatusOK, Headers: responseHeaders(origin), Body: string(body)}
}

func failureEvent(origin string, err error) EventResponse {
	body, _ := json.Marshal(ErrorBody{Error: err.Error(), Trace: string(debug.Stack())})
	return EventResponse{StatusCode: http.StatusInternalServerError, Headers: responseHeaders(origin), Body: string(body)}
}

func writeFailure(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorBody{Error: err.Error(), Trace: string(debug.Stack())})
}

func handleAssistant(a Asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAssistantBodySize)
		defer r.Body.Close()

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeFailure(w, fmt.Errorf("reading request body: %w", err))
			return
		}
		req, err := DecodeRequest(raw)
		if err != nil {
			writeFailure(w, err)
			return
		}

		opts := pipeline.Options{Deep: r.URL.Query().Get("deep") == "true"}
		out, err := a.Handle(r.Context(), req, opts)
		if err != nil {
			slog.Error("assistant request failed", "error", err)
			writeFailure(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("{}"))
}

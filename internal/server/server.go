// Package server exposes the gateway over HTTP: JSON completions in, SSE
// token streams or JSON documents out.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/parleylabs/parley-gateway/internal/gateway"
)

const maxBodyBytes = 1 << 20

// Server handles the completion API.
type Server struct {
	gw     *gateway.Gateway
	logger *slog.Logger
}

func New(gw *gateway.Gateway, logger *slog.Logger) *Server {
	return &Server{
		gw:     gw,
		logger: logger.With(slog.String("component", "http-server")),
	}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/completions", s.handleCompletions)
}

type errorResponse struct {
	Error string `json:"error"`
}

type textResponse struct {
	Text string `json:"text"`
}

type streamChunk struct {
	Text string `json:"text"`
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var req gateway.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.gw.Complete(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, gateway.ErrBackendUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("completion failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "generation failed")
		}
		return
	}

	switch result.Kind {
	case gateway.KindStream:
		s.writeStream(w, result)
	case gateway.KindText:
		writeJSON(w, http.StatusOK, result.Text)
	default:
		writeJSON(w, http.StatusOK, textResponse{Text: result.Text})
	}
}

// writeStream forwards the token stream as server-sent events, one
// increment per event, terminated by a [DONE] marker.
func (s *Server) writeStream(w http.ResponseWriter, result gateway.Result) {
	defer result.Stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		text, err := result.Stream.Recv()
		if err == io.EOF {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		if err != nil {
			// Already-yielded increments stand; surface the failure in-band.
			data, _ := json.Marshal(errorResponse{Error: err.Error()})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			return
		}
		data, err := json.Marshal(streamChunk{Text: text})
		if err != nil {
			s.logger.Error("failed to marshal SSE chunk", slog.String("error", err.Error()))
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

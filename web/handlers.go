package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/services"
)

func (w *WebServer) HandleHealth(wr http.ResponseWriter, r *http.Request) {
	wr.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(wr, "ok")
}

// HandleGetSignals returns the signals named by repeated path query
// parameters, or every signal when none is given.
func (w *WebServer) HandleGetSignals(wr http.ResponseWriter, r *http.Request) {
	paths := r.URL.Query()["path"]
	if len(paths) == 0 {
		writeJSON(wr, http.StatusOK, proto.GetResponse{Signals: w.services.Signals.List(), Success: true})
		return
	}
	writeJSON(wr, http.StatusOK, w.services.Signals.Get(proto.GetRequest{Paths: paths}))
}

func (w *WebServer) HandleSetSignals(wr http.ResponseWriter, r *http.Request) {
	var req proto.SetRequest
	if !decodeBody(wr, r, &req) {
		return
	}
	writeJSON(wr, http.StatusOK, w.services.Signals.Set(req))
}

func (w *WebServer) HandleLock(wr http.ResponseWriter, r *http.Request) {
	var req proto.LockRequest
	if !decodeBody(wr, r, &req) {
		return
	}
	resp := w.services.Signals.Lock(req)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusConflict
	}
	writeJSON(wr, status, resp)
}

func (w *WebServer) HandleUnlock(wr http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	resp := w.services.Signals.Unlock(proto.UnlockRequest{Token: token})
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusNotFound
	}
	writeJSON(wr, status, resp)
}

func (w *WebServer) HandleListLocks(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, w.services.Signals.Locks())
}

// HandleForceUnlock releases a lock regardless of its holder.
func (w *WebServer) HandleForceUnlock(wr http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	token, err := w.services.Signals.ForceUnlock(path)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	slog.Info("Lock force-released over HTTP", "path", path, "token", token)
	writeJSON(wr, http.StatusOK, map[string]string{"path": path, "token": token})
}

func (w *WebServer) HandleConnections(wr http.ResponseWriter, r *http.Request) {
	if w.services.Connections == nil {
		writeJSON(wr, http.StatusOK, []services.ConnectionInfo{})
		return
	}
	writeJSON(wr, http.StatusOK, w.services.Connections.Connections())
}

func (w *WebServer) HandleTransports(wr http.ResponseWriter, r *http.Request) {
	if w.services.Transport == nil {
		writeJSON(wr, http.StatusOK, []services.TransportInfo{})
		return
	}
	transports, err := w.services.Transport.ListTransports()
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transports)
}

// sseStream writes subscription items as Server-Sent Events.
type sseStream struct {
	ctx     context.Context
	wr      http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func (s *sseStream) Context() context.Context { return s.ctx }

func (s *sseStream) Send(resp *proto.SubscribeResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	event := "signal"
	if resp.Signal == nil {
		event = "error"
	}
	s.seq++
	if _, err := fmt.Fprintf(s.wr, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleSubscribe streams updates of the signals named by repeated path
// query parameters until the client goes away.
func (w *WebServer) HandleSubscribe(wr http.ResponseWriter, r *http.Request) {
	paths := r.URL.Query()["path"]
	if len(paths) == 0 {
		http.Error(wr, "at least one path is required", http.StatusBadRequest)
		return
	}

	flusher, ok := wr.(http.Flusher)
	if !ok {
		slog.Error("Streaming unsupported", "paths", paths)
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")
	wr.Header().Set("Access-Control-Allow-Origin", "*")
	wr.WriteHeader(http.StatusOK)
	fmt.Fprint(wr, ": connected\n\n")
	flusher.Flush()

	stream := &sseStream{ctx: r.Context(), wr: wr, flusher: flusher}
	if err := w.services.Signals.Subscribe(proto.SubscribeRequest{Paths: paths}, stream); err != nil {
		slog.Info("SSE subscription ended", "paths", paths, "error", err.Error())
		data, _ := json.Marshal(proto.SubscribeEnd{ErrorMessage: err.Error()})
		fmt.Fprintf(wr, "event: end\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}
	if r.Context().Err() == nil {
		fmt.Fprint(wr, "event: end\ndata: {}\n\n")
		flusher.Flush()
	}
}

// handleError handles service errors with proper HTTP status codes
func (w *WebServer) handleError(wr http.ResponseWriter, err error) {
	slog.Error("Service error", "error", err)

	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		switch serviceErr.Code {
		case services.ErrCodeNotFound:
			status = http.StatusNotFound
		case services.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case services.ErrCodeLocked:
			status = http.StatusConflict
		case services.ErrCodeTimeout:
			status = http.StatusRequestTimeout
		}

		writeJSON(wr, status, proto.ErrorPayload{Message: serviceErr.Message})
		return
	}

	writeJSON(wr, http.StatusInternalServerError, proto.ErrorPayload{Message: "Internal server error"})
}

func decodeBody(wr http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(wr, http.StatusBadRequest, proto.ErrorPayload{Message: "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err.Error())
	}
}

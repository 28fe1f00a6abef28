// Package server hosts the two auxiliary HTTP endpoints: the receiver the
// browser extension posts tab info to, and the dashboard that serves the
// latest report.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/srodi/tabreaper/pkg/atomicfile"
	"pkt.systems/pslog"
)

const (
	shutdownTimeout = 5 * time.Second
	maxTabInfoBytes = 8 << 20
)

// ListenAndServe starts an HTTP server and shuts it down on context cancellation.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	logger := pslog.Ctx(ctx)
	server := &http.Server{
		Addr:              addr,
		Handler:           withRequestLogging(handler),
		ErrorLog:          pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("http server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// TabInfoHandler accepts the browser extension's tab list and rewrites the
// tab log at path. Only "/" is served.
func TabInfoHandler(path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodOptions:
			setCORS(w)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			receiveTabInfo(w, r, path)
		default:
			http.NotFound(w, r)
		}
	})
}

func receiveTabInfo(w http.ResponseWriter, r *http.Request, path string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTabInfoBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "    "); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	pretty.WriteByte('\n')
	if err := atomicfile.Write(path, pretty.Bytes(), 0o644); err != nil {
		pslog.Ctx(r.Context()).Error("writing tab log failed", "path", path, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to store tab info"})
		return
	}
	pslog.Ctx(r.Context()).Debug("tab info received", "path", path, "bytes", len(body))
	setCORS(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Tab info received"})
}

// DashboardHandler serves the report document stored at path on GET /.
// A missing or malformed report yields an {"error": ...} document.
func DashboardHandler(path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "report file not found"})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "report file unreadable"})
			return
		case !json.Valid(data):
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Invalid JSON format in report file"})
			return
		}
		setCORS(w)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

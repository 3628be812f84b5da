// Package gateway exposes the daemon's HTTP status surface: health,
// clone task listing, cancel and remove. It is a thin control plane,
// not a UI.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/flashing/seafile/internal/clone"
)

// Config holds the gateway dependencies.
type Config struct {
	Addr    string
	Token   string // optional Bearer token; empty disables auth
	Manager *clone.Manager
	Logger  *slog.Logger
}

// Gateway serves the status API.
type Gateway struct {
	cfg    Config
	log    *slog.Logger
	server *http.Server
	addr   string
}

func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{cfg: cfg, log: logger.With("component", "gateway")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	mux.Handle("GET /v1/clone/tasks", g.auth(http.HandlerFunc(g.handleListTasks)))
	mux.Handle("GET /v1/clone/tasks/{repoID}", g.auth(http.HandlerFunc(g.handleGetTask)))
	mux.Handle("POST /v1/clone/tasks/{repoID}/cancel", g.auth(http.HandlerFunc(g.handleCancelTask)))
	mux.Handle("DELETE /v1/clone/tasks/{repoID}", g.auth(http.HandlerFunc(g.handleRemoveTask)))

	g.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return g
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serving continues in the background.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return err
	}
	g.addr = ln.Addr().String()
	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("gateway serve error", "error", err)
		}
	}()
	g.log.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (g *Gateway) Addr() string {
	return g.addr
}

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.cfg.Manager.ListTasks())
}

func (g *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap := g.cfg.Manager.GetTask(r.PathValue("repoID"))
	if snap == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	err := g.cfg.Manager.CancelTask(r.Context(), r.PathValue("repoID"))
	switch {
	case errors.Is(err, clone.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
	}
}

func (g *Gateway) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	if err := g.cfg.Manager.RemoveTask(r.PathValue("repoID")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// auth enforces the configured Bearer token. /healthz stays open.
func (g *Gateway) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.Token != "" {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header != "Bearer "+g.cfg.Token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package server is the admin HTTP surface: health, metrics and a read-only
// view of the server registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fleetbot/internal/auth"
	"fleetbot/internal/metrics"
	"fleetbot/internal/models"
	"fleetbot/internal/registry"
)

// Unassigned groups servers without a location.
const Unassigned = "unassigned"

// GroupResp is one location and its servers.
type GroupResp struct {
	Name    string       `json:"name"`
	Servers []ServerResp `json:"servers"`
}

// ServerResp is the public view of a server. Credentials are never included.
type ServerResp struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user"`
	Machines      int    `json:"machines"`
	Location      string `json:"location"`
	AddressBase   string `json:"address_base"`
	AddressOffset int    `json:"address_offset"`
	KeyAuth       bool   `json:"key_auth"`
}

func serverResp(d models.ServerDescriptor) ServerResp {
	return ServerResp{
		ID:            d.ID,
		Name:          d.Name,
		Host:          d.Host,
		Port:          d.SSHPort(),
		User:          d.User,
		Machines:      d.Machines,
		Location:      d.Location,
		AddressBase:   d.AddressBase,
		AddressOffset: d.AddressOffset,
		KeyAuth:       d.KeyPath != "",
	}
}

// Groups buckets servers by location, named locations sorted first.
func Groups(servers []models.ServerDescriptor) []GroupResp {
	m := make(map[string][]ServerResp)
	for _, s := range servers {
		g := s.Location
		if g == "" {
			g = Unassigned
		}
		m[g] = append(m[g], serverResp(s))
	}
	names := make([]string, 0, len(m))
	for k := range m {
		if k != Unassigned {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	names = append(names, Unassigned)

	out := make([]GroupResp, 0, len(names))
	for _, n := range names {
		if list, ok := m[n]; ok {
			out = append(out, GroupResp{Name: n, Servers: list})
		}
	}
	return out
}

// Admin serves the admin endpoints.
type Admin struct {
	registry  *registry.Registry
	metrics   *metrics.Metrics
	tokenHash string
	started   time.Time
	logger    zerolog.Logger
}

// New builds the admin API. tokenHash protects /api/*; empty leaves it open.
func New(reg *registry.Registry, m *metrics.Metrics, tokenHash string, logger zerolog.Logger) *Admin {
	return &Admin{registry: reg, metrics: m, tokenHash: tokenHash, started: time.Now(), logger: logger}
}

// Handler routes the admin endpoints.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.health)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
	mux.HandleFunc("GET /api/servers", auth.RequireToken(a.tokenHash, a.servers))
	mux.HandleFunc("GET /api/servers/{id}", auth.RequireToken(a.tokenHash, a.server))
	return mux
}

func (a *Admin) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"servers": a.registry.Len(),
		"uptime":  time.Since(a.started).Round(time.Second).String(),
	})
}

func (a *Admin) servers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"groups": Groups(a.registry.List())})
}

func (a *Admin) server(w http.ResponseWriter, r *http.Request) {
	d, ok := a.registry.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "server not found"})
		return
	}
	writeJSON(w, http.StatusOK, serverResp(d))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("admin api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		a.logger.Info().Msg("admin api stopped")
		return nil
	}
}

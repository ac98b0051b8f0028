// Package api exposes the reconciled stand topology over HTTP. All
// endpoints are read-only; the hypervisor stays the single source of
// truth and every request reflects its current state.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

// StandLister is the driver surface the API consumes
type StandLister interface {
	ListStands(ctx context.Context) ([]*domain.Stand, error)
	GetStand(ctx context.Context, name string) (*domain.Stand, error)
}

// API holds the stand lister dependency for clean data access
type API struct {
	stands StandLister
	log    *zap.Logger
}

// NewAPI creates a new API instance. log may be nil.
func NewAPI(stands StandLister, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{stands: stands, log: log}
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// NetworkResponse is the JSON shape of a stand network
type NetworkResponse struct {
	Name    string `json:"name"`
	CIDR    string `json:"cidr,omitempty"`
	DHCP    bool   `json:"dhcp"`
	Managed bool   `json:"managed"`
}

// NodeResponse is the JSON shape of one node
type NodeResponse struct {
	Name   string `json:"name"`
	Cores  int    `json:"cores"`
	Memory int    `json:"memory_mib"`
	Image  string `json:"image,omitempty"`
	Disks  []int  `json:"disks,omitempty"`
}

// StandResponse is the JSON shape of one reconstructed stand
type StandResponse struct {
	Name        string          `json:"name"`
	Network     NetworkResponse `json:"network"`
	Bootstraps  []NodeResponse  `json:"bootstraps"`
	Baremetals  []NodeResponse  `json:"baremetals"`
	Quarantined []string        `json:"quarantined,omitempty"`
	Valid       bool            `json:"valid"`
}

func standResponse(s *domain.Stand) StandResponse {
	resp := StandResponse{
		Name: s.Name,
		Network: NetworkResponse{
			Name:    s.Network.Name,
			DHCP:    s.Network.DHCP,
			Managed: s.Network.Managed,
		},
		Bootstraps:  []NodeResponse{},
		Baremetals:  []NodeResponse{},
		Quarantined: s.Quarantined,
		Valid:       s.IsValid(),
	}
	if !s.Network.IsDummy() {
		resp.Network.CIDR = s.Network.CIDR.String()
	}
	for _, b := range s.Bootstraps {
		resp.Bootstraps = append(resp.Bootstraps, nodeResponse(b.Node))
	}
	for _, n := range s.Baremetals {
		resp.Baremetals = append(resp.Baremetals, nodeResponse(n))
	}
	return resp
}

func nodeResponse(n domain.Node) NodeResponse {
	return NodeResponse{
		Name:   n.Name,
		Cores:  n.Cores,
		Memory: n.Memory,
		Image:  n.Image,
		Disks:  n.Disks,
	}
}

// listStandsHandler handles GET /api/v1/stands.
//
// Response: 200 OK with the list of stands reconstructed from the
// hypervisor, or 500 when reconciliation fails.
func (a *API) listStandsHandler(w http.ResponseWriter, r *http.Request) {
	stands, err := a.stands.ListStands(r.Context())
	if err != nil {
		a.log.Error("failed to list stands", zap.Error(err))
		a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to list stands"})
		return
	}

	resp := make([]StandResponse, 0, len(stands))
	for _, s := range stands {
		resp = append(resp, standResponse(s))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// getStandHandler handles GET /api/v1/stands/{name}.
//
// Response: 200 OK with the stand, 404 when no stand with that name
// exists on the hypervisor.
func (a *API) getStandHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	stand, err := a.stands.GetStand(r.Context(), name)
	if err != nil {
		a.log.Error("failed to get stand", zap.String("stand", name), zap.Error(err))
		a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get stand"})
		return
	}
	if stand == nil {
		a.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Stand not found"})
		return
	}
	a.writeJSON(w, http.StatusOK, standResponse(stand))
}

func (a *API) healthzHandler(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Error("failed to encode response", zap.Error(err))
	}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthzHandler)

	r.Route("/api/v1/stands", func(r chi.Router) {
		r.Get("/", a.listStandsHandler)
		r.Get("/{name}", a.getStandHandler)
	})
}

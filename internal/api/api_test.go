package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/standctl/internal/domain"
)

type fakeLister struct {
	stands []*domain.Stand
	err    error
}

func (f *fakeLister) ListStands(ctx context.Context) ([]*domain.Stand, error) {
	return f.stands, f.err
}

func (f *fakeLister) GetStand(ctx context.Context, name string) (*domain.Stand, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.stands {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func setupTestAPI(t *testing.T, lister *fakeLister) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	NewAPI(lister, nil).RegisterRoutes(r)
	return r
}

func testStand() *domain.Stand {
	return &domain.Stand{
		Name: "lab",
		Network: domain.Network{
			Name:    "lab-net",
			CIDR:    netip.MustParsePrefix("10.20.0.0/22"),
			DHCP:    true,
			Managed: true,
		},
		Bootstraps: []domain.Bootstrap{
			{Node: domain.Node{Name: "lab-bootstrap", Cores: 2, Memory: 4096, Image: "/img/base.qcow2"}},
		},
		Baremetals: []domain.Node{
			{Name: "lab-bm-0", Cores: 4, Memory: 8192, Disks: []int{20, 40}},
		},
	}
}

func TestListStandsHandler(t *testing.T) {
	r := setupTestAPI(t, &fakeLister{stands: []*domain.Stand{testStand()}})

	req := httptest.NewRequest("GET", "/api/v1/stands/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp []StandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "lab", resp[0].Name)
	assert.Equal(t, "10.20.0.0/22", resp[0].Network.CIDR)
	assert.True(t, resp[0].Valid)
	require.Len(t, resp[0].Bootstraps, 1)
	assert.Equal(t, "/img/base.qcow2", resp[0].Bootstraps[0].Image)
	require.Len(t, resp[0].Baremetals, 1)
	assert.Equal(t, []int{20, 40}, resp[0].Baremetals[0].Disks)
}

func TestListStandsHandler_Empty(t *testing.T) {
	r := setupTestAPI(t, &fakeLister{})

	req := httptest.NewRequest("GET", "/api/v1/stands/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListStandsHandler_Error(t *testing.T) {
	r := setupTestAPI(t, &fakeLister{err: errors.New("virsh exploded")})

	req := httptest.NewRequest("GET", "/api/v1/stands/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestGetStandHandler(t *testing.T) {
	r := setupTestAPI(t, &fakeLister{stands: []*domain.Stand{testStand()}})

	req := httptest.NewRequest("GET", "/api/v1/stands/lab", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp StandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lab", resp.Name)
	assert.True(t, resp.Network.Managed)
}

func TestGetStandHandler_NotFound(t *testing.T) {
	r := setupTestAPI(t, &fakeLister{})

	req := httptest.NewRequest("GET", "/api/v1/stands/nope", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthzHandler(t *testing.T) {
	r := setupTestAPI(t, &fakeLister{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

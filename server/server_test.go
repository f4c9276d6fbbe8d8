package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/kozdaq/server"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusAndRoutes(t *testing.T) {
	type status struct {
		Samples int `json:"samples"`
	}
	n := 3
	rt := server.RouteTable{"status": server.Snapshot(func() interface{} { return status{n} })}
	srv := server.New("127.0.0.1:0", rt, prometheus.NewRegistry(), nil)

	rec := get(t, srv.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"samples":3}`, rec.Body.String())

	rec = get(t, srv.Handler(), "/list-of-routes")
	var routes []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routes))
	assert.Equal(t, []string{"metrics", "status"}, routes)

	rec = get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponsesAreNotCached(t *testing.T) {
	rt := server.RouteTable{"status": server.Snapshot(func() interface{} { return 1 })}
	srv := server.New("127.0.0.1:0", rt, nil, nil)
	rec := get(t, srv.Handler(), "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.RouteTable{}, nil, nil)
	rec := get(t, srv.Handler(), "/boom")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnencodableIsServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	server.JSON(rec, func() {})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

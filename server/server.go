// Package server exposes program status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouteTable maps URL endpoints (GET) to handlers
type RouteTable map[string]http.HandlerFunc

// ListEndpoints lists the endpoints in a RouteTable (the keys), sorted
func (rt RouteTable) ListEndpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route on r, plus list-of-routes
func (rt RouteTable) Bind(r chi.Router) {
	for str, meth := range rt {
		r.Get("/"+str, meth)
	}
	r.Get("/list-of-routes", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, rt.ListEndpoints())
	})
}

// JSON encodes v as the response body
func JSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// Snapshot returns a handler replying with the JSON encoding of f()
func Snapshot(f func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, f())
	}
}

// Server is the status endpoint
type Server struct {
	RouteTable RouteTable

	srv *http.Server
	log *zap.Logger
}

// New builds a server on addr serving rt and, when reg is not nil, /metrics
func New(addr string, rt RouteTable, reg *prometheus.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.NoCache)
	if reg != nil {
		rt["metrics"] = promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP
	}
	rt.Bind(r)
	return &Server{
		RouteTable: rt,
		srv:        &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
		log:        log,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on the configured address and serves in the background.
// A listen failure is returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("[server] now listening for requests", zap.String("addr", ln.Addr().String()),
		zap.Strings("routes", s.RouteTable.ListEndpoints()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("[server] serve", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

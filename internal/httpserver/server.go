// Package httpserver exposes the status store over HTTP: status and history
// reads, the tile mask, UI settings, quit, quality events, recorded clips,
// and the static overlay assets. Routing is thin; every handler delegates to
// the store and validates its own input.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kvandebeek/motiondetector/internal/logging"
	"github.com/kvandebeek/motiondetector/internal/region"
	"github.com/kvandebeek/motiondetector/internal/statusstore"
)

// Server is the HTTP front-end. It never exits the process itself: POST
// /quit only sets the store's quit flag, and Composition tears everything
// down once it observes the flag.
type Server struct {
	store          *statusstore.Store
	region         *region.Handle
	clipsDir       string
	historySeconds float64
	log            *slog.Logger

	srv *http.Server
}

// Config carries the server's bind address plus the paths and values the
// handlers need.
type Config struct {
	Host           string
	Port           int
	ClipsDir       string
	HistorySeconds float64
}

// New builds the server and its router. Call Start to begin serving.
func New(cfg Config, store *statusstore.Store, regionHandle *region.Handle) *Server {
	s := &Server{
		store:          store,
		region:         regionHandle,
		clipsDir:       cfg.ClipsDir,
		historySeconds: cfg.HistorySeconds,
		log:            logging.L("httpserver"),
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/tiles", s.handleGetTiles).Methods(http.MethodGet)
	r.HandleFunc("/tiles", s.handlePutTiles).Methods(http.MethodPut)
	r.HandleFunc("/ui", s.handleGetUI).Methods(http.MethodGet)
	r.HandleFunc("/ui/settings", s.handleGetUI).Methods(http.MethodGet)
	r.HandleFunc("/ui/tile-numbers", s.handleTileNumbers).Methods(http.MethodPost)
	r.HandleFunc("/ui/grid", s.handleGrid).Methods(http.MethodPost)
	r.HandleFunc("/ui/state-overlay", s.handleStateOverlay).Methods(http.MethodPost)
	r.HandleFunc("/ui/region", s.handleRegion).Methods(http.MethodPost)
	r.HandleFunc("/quit", s.handleQuit).Methods(http.MethodPost)
	r.HandleFunc("/quality/events", s.handleQualityEvents).Methods(http.MethodGet)
	r.HandleFunc("/quality/clips", s.handleQualityClips).Methods(http.MethodGet)

	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", http.FileServer(http.FS(assetFS()))))
	r.PathPrefix("/clips/").Handler(http.StripPrefix("/clips/", http.FileServer(http.Dir(s.clipsDir))))

	return r
}

// Start binds the listener synchronously so address errors surface to the
// caller, then serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.log.Info("listening", "addr", s.srv.Addr)

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("serve failed", logging.KeyError, err)
		}
	}()
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

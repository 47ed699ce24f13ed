package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Server is the signaling relay: an HTTP router in front of a Hub.
type Server struct {
	cfg      *config.RelayConfig
	hub      *Hub
	codec    signaling.Codec
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(cfg *config.RelayConfig, logger zerolog.Logger) (*Server, error) {
	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:   cfg,
		hub:   NewHub(logger),
		codec: codec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger,
	}, nil
}

// Hub returns the server's hub. It must be running for websockets to be served.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the relay's HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/health", healthCheckHandler)
	r.Get("/ws/rooms/{room}", s.serveWs)
	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if roomID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		hub:        s.hub,
		conn:       conn,
		codec:      s.codec,
		roomID:     roomID,
		send:       make(chan []byte, sendBuffer),
		readLimit:  s.cfg.ReadLimit,
		pingPeriod: s.cfg.PingPeriod,
	}
	if !s.hub.registerClient(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ListenAndServe runs the hub and the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info().Str("addr", s.cfg.Addr).Str("codec", s.codec.Name()).Msg("starting signaling relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

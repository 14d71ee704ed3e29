package server

import (
	"beacon_p2p/internal/config"
	"beacon_p2p/internal/utils/log"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	// HttpServer is a development relay: the Matrix client API subset the
	// engine uses, kept in memory, plus a websocket forwarding hub.
	HttpServer struct {
		cfg   config.ServerConfig
		now   func() time.Time
		queue Queue

		mu      sync.Mutex
		mapper  map[string]*websocket.Conn
		writeMu map[string]*sync.Mutex
		matrix  *matrixState

		srv *http.Server
	}
)

func NewHttpServer(cfg config.ServerConfig, queue Queue) *HttpServer {
	if queue == nil {
		queue = NewMemoryQueue()
	}
	return &HttpServer{
		cfg:     cfg,
		now:     time.Now,
		queue:   queue,
		mapper:  make(map[string]*websocket.Conn),
		writeMu: make(map[string]*sync.Mutex),
		matrix:  newMatrixState(),
	}
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleInitWS()).Methods(http.MethodGet)

	r.HandleFunc("/_matrix/client/versions", s.handleVersions()).Methods(http.MethodGet)
	api := r.PathPrefix("/_matrix/client/r0").Subrouter()
	api.HandleFunc("/login", s.handleLogin()).Methods(http.MethodPost)
	api.HandleFunc("/sync", s.authed(s.handleSync())).Methods(http.MethodGet)
	api.HandleFunc("/createRoom", s.authed(s.handleCreateRoom())).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomID}/join", s.authed(s.handleJoin())).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomID}/leave", s.authed(s.handleLeave())).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomID}/send/{eventType}/{txnID}", s.authed(s.handleSend())).Methods(http.MethodPut)
	return r
}

// Run serves until ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", s.cfg.Listen), zap.String("server_name", s.cfg.ServerName))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeSockets()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// serverName is the domain part of user and room ids. Without a configured
// name the request host is used, so ids match the node address clients dial.
func (s *HttpServer) serverName(r *http.Request) string {
	if s.cfg.ServerName != "" {
		return s.cfg.ServerName
	}
	return r.Host
}

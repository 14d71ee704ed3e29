package server

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/utils/log"
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		// a nil entry reserves the slot while the upgrade runs
		s.mu.Lock()
		_, dup := s.mapper[userID]
		if !dup {
			s.mapper[userID] = nil
		}
		s.mu.Unlock()
		if dup {
			http.Error(w, "duplicated userID", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			s.mu.Lock()
			delete(s.mapper, userID)
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.mapper[userID] = conn
		s.writeMu[userID] = &sync.Mutex{}
		s.mu.Unlock()

		go s.processWSMessage(userID, conn)
		if err := s.ForwardUnsentMessages(context.Background(), userID); err != nil {
			log.Error("forward msg failed", zap.Error(err))
		}
	}
}

func (s *HttpServer) processWSMessage(userID string, conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.mapper[userID] == conn {
			delete(s.mapper, userID)
			delete(s.writeMu, userID)
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.String("user", userID), zap.Error(err))
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.To == "" {
			log.Error("Unmarshal frame failed", zap.Error(err))
			continue
		}
		if frame.From != userID {
			log.Warn("dropping frame with forged sender", zap.String("user", userID), zap.String("from", frame.From))
			continue
		}

		if s.write(frame.To, data) {
			continue
		}
		if err := s.queue.Push(context.Background(), frame.To, data); err != nil {
			log.Error("queue frame failed", zap.Error(err))
		}
	}
}

// write delivers data to a connected user. It reports false when the user
// is offline or the write failed.
func (s *HttpServer) write(userID string, data []byte) bool {
	s.mu.Lock()
	conn, ok := s.mapper[userID]
	mu := s.writeMu[userID]
	s.mu.Unlock()
	if !ok || conn == nil {
		return false
	}
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (s *HttpServer) ForwardUnsentMessages(ctx context.Context, userID string) error {
	frames, err := s.queue.Drain(ctx, userID)
	if err != nil {
		return err
	}
	for i, f := range frames {
		if !s.write(userID, f) {
			// user went away again, keep the rest for later
			return s.queue.Push(ctx, userID, frames[i:]...)
		}
	}
	return nil
}

func (s *HttpServer) closeSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.mapper {
		if c != nil {
			c.Close()
		}
		delete(s.mapper, id)
	}
}

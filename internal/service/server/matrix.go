package server

import (
	"beacon_p2p/internal/protocol/matrix"
	"beacon_p2p/internal/protocol/security"
	"beacon_p2p/internal/utils/log"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type (
	matrixState struct {
		mu      sync.Mutex
		pos     int64
		changed chan struct{}
		tokens  map[string]string // access token -> user id
		rooms   map[string]*relayRoom
		txns    map[string]string // token|txn -> event id
	}

	relayRoom struct {
		id         string
		membership map[string]string
		joinedAt   map[string]int64
		events     []positioned
	}

	positioned struct {
		pos   int64
		event matrix.RoomEvent
	}

	ctxKey struct{}
)

func newMatrixState() *matrixState {
	return &matrixState{
		changed: make(chan struct{}),
		tokens:  make(map[string]string),
		rooms:   make(map[string]*relayRoom),
		txns:    make(map[string]string),
	}
}

// _append adds ev to room and wakes long polls. Callers hold m.mu.
func (m *matrixState) _append(room *relayRoom, ev matrix.RoomEvent) int64 {
	m.pos++
	ev.EventID = "$" + strconv.FormatInt(m.pos, 10)
	ev.OriginServerTS = time.Now().UnixMilli()
	room.events = append(room.events, positioned{pos: m.pos, event: ev})
	close(m.changed)
	m.changed = make(chan struct{})
	return m.pos
}

func (m *matrixState) _member(room *relayRoom, sender, target, membership string) {
	content, _ := json.Marshal(matrix.MemberContent{Membership: membership})
	key := target
	pos := m._append(room, matrix.RoomEvent{Type: matrix.EventTypeMember, Sender: sender, StateKey: &key, Content: content})
	room.membership[target] = membership
	if membership == matrix.MembershipJoin {
		room.joinedAt[target] = pos
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, matrix.ErrorResponse{ErrCode: code, Error: msg})
}

func userFrom(r *http.Request) string {
	u, _ := r.Context().Value(ctxKey{}).(string)
	return u
}

func (s *HttpServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.matrix.mu.Lock()
		user, ok := s.matrix.tokens[token]
		s.matrix.mu.Unlock()
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "unknown access token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	}
}

func (s *HttpServer) handleVersions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, matrix.VersionsResponse{Versions: []string{"r0.6.1"}})
	}
}

func (s *HttpServer) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req matrix.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "M_BAD_JSON", err.Error())
			return
		}
		if !security.VerifyLoginCredential(req.Identifier.User, req.Password, s.now()) {
			log.Info("login rejected", zap.String("user", req.Identifier.User))
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "invalid credential")
			return
		}
		userID := "@" + req.Identifier.User + ":" + s.serverName(r)
		token := uuid.NewString()

		s.matrix.mu.Lock()
		s.matrix.tokens[token] = userID
		s.matrix.mu.Unlock()

		writeJSON(w, http.StatusOK, matrix.LoginResponse{UserID: userID, AccessToken: token, DeviceID: req.DeviceID})
	}
}

func (s *HttpServer) handleCreateRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req matrix.CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "M_BAD_JSON", err.Error())
			return
		}
		user := userFrom(r)
		room := &relayRoom{
			id:         "!" + uuid.NewString() + ":" + s.serverName(r),
			membership: make(map[string]string),
			joinedAt:   make(map[string]int64),
		}

		m := s.matrix
		m.mu.Lock()
		m.rooms[room.id] = room
		m._member(room, user, user, matrix.MembershipJoin)
		for _, invitee := range req.Invite {
			m._member(room, user, invitee, matrix.MembershipInvite)
		}
		m.mu.Unlock()

		writeJSON(w, http.StatusOK, matrix.CreateRoomResponse{RoomID: room.id})
	}
}

func (s *HttpServer) handleJoin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomID"]
		user := userFrom(r)

		m := s.matrix
		m.mu.Lock()
		defer m.mu.Unlock()
		room, ok := m.rooms[roomID]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "unknown room")
			return
		}
		switch room.membership[user] {
		case matrix.MembershipJoin:
		case matrix.MembershipInvite:
			m._member(room, user, user, matrix.MembershipJoin)
		default:
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "not invited")
			return
		}
		writeJSON(w, http.StatusOK, matrix.JoinResponse{RoomID: roomID})
	}
}

func (s *HttpServer) handleLeave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Leave(mux.Vars(r)["roomID"], userFrom(r))
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// Leave removes user from room.
func (s *HttpServer) Leave(roomID, user string) {
	m := s.matrix
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok && room.membership[user] != "" {
		m._member(room, user, user, matrix.MembershipLeave)
	}
}

func (s *HttpServer) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		user := userFrom(r)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		var content json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
			writeError(w, http.StatusBadRequest, "M_BAD_JSON", err.Error())
			return
		}

		m := s.matrix
		m.mu.Lock()
		defer m.mu.Unlock()
		room, ok := m.rooms[vars["roomID"]]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "unknown room")
			return
		}
		if room.membership[user] != matrix.MembershipJoin {
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "not joined")
			return
		}
		txnKey := token + "|" + vars["txnID"]
		if id, ok := m.txns[txnKey]; ok {
			writeJSON(w, http.StatusOK, matrix.SendResponse{EventID: id})
			return
		}
		m._append(room, matrix.RoomEvent{Type: vars["eventType"], Sender: user, Content: content})
		id := room.events[len(room.events)-1].event.EventID
		m.txns[txnKey] = id
		writeJSON(w, http.StatusOK, matrix.SendResponse{EventID: id})
	}
}

func (s *HttpServer) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r)
		q := r.URL.Query()
		since, _ := strconv.ParseInt(strings.TrimPrefix(q.Get("since"), "s"), 10, 64)
		timeoutMs, _ := strconv.ParseInt(q.Get("timeout"), 10, 64)
		deadline := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer deadline.Stop()

		for {
			resp, wait := s.matrix.syncFor(user, since)
			if !emptySync(resp) || timeoutMs <= 0 {
				writeJSON(w, http.StatusOK, resp)
				return
			}
			select {
			case <-wait:
			case <-deadline.C:
				writeJSON(w, http.StatusOK, resp)
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// syncFor collects what user has not seen after since. A room the user
// joined after since is returned with its whole history.
func (m *matrixState) syncFor(user string, since int64) (matrix.SyncResponse, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := matrix.SyncResponse{NextBatch: "s" + strconv.FormatInt(m.pos, 10)}
	for id, room := range m.rooms {
		switch room.membership[user] {
		case matrix.MembershipInvite:
			var state []matrix.RoomEvent
			changed := false
			for _, pe := range room.events {
				if pe.event.Type != matrix.EventTypeMember {
					continue
				}
				state = append(state, pe.event)
				if pe.pos > since && pe.event.StateKey != nil && *pe.event.StateKey == user {
					changed = true
				}
			}
			if !changed {
				continue
			}
			if resp.Rooms.Invite == nil {
				resp.Rooms.Invite = make(map[string]matrix.InvitedRoom)
			}
			resp.Rooms.Invite[id] = matrix.InvitedRoom{InviteState: matrix.EventList{Events: state}}

		case matrix.MembershipJoin:
			from := since
			if room.joinedAt[user] > since {
				from = 0
			}
			var timeline []matrix.RoomEvent
			for _, pe := range room.events {
				if pe.pos > from {
					timeline = append(timeline, pe.event)
				}
			}
			if len(timeline) == 0 {
				continue
			}
			if resp.Rooms.Join == nil {
				resp.Rooms.Join = make(map[string]matrix.JoinedRoom)
			}
			resp.Rooms.Join[id] = matrix.JoinedRoom{Timeline: matrix.EventList{Events: timeline}}

		case matrix.MembershipLeave:
			var timeline []matrix.RoomEvent
			for _, pe := range room.events {
				if pe.pos > since && pe.event.StateKey != nil && *pe.event.StateKey == user {
					timeline = append(timeline, pe.event)
				}
			}
			if len(timeline) == 0 {
				continue
			}
			if resp.Rooms.Leave == nil {
				resp.Rooms.Leave = make(map[string]matrix.LeftRoom)
			}
			resp.Rooms.Leave[id] = matrix.LeftRoom{Timeline: matrix.EventList{Events: timeline}}
		}
	}
	return resp, m.changed
}

func emptySync(resp matrix.SyncResponse) bool {
	return len(resp.Rooms.Join) == 0 && len(resp.Rooms.Invite) == 0 && len(resp.Rooms.Leave) == 0
}

package matrix

import "encoding/json"

// Request and response bodies of the Matrix client-server API subset the
// transport uses.
type (
	UserIdentifier struct {
		Type string `json:"type"`
		User string `json:"user"`
	}

	LoginRequest struct {
		Type       string         `json:"type"`
		Identifier UserIdentifier `json:"identifier"`
		Password   string         `json:"password"`
		DeviceID   string         `json:"device_id"`
	}

	LoginResponse struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
		DeviceID    string `json:"device_id"`
	}

	SyncResponse struct {
		NextBatch string    `json:"next_batch"`
		Rooms     SyncRooms `json:"rooms"`
	}

	SyncRooms struct {
		Join   map[string]JoinedRoom  `json:"join,omitempty"`
		Invite map[string]InvitedRoom `json:"invite,omitempty"`
		Leave  map[string]LeftRoom    `json:"leave,omitempty"`
	}

	JoinedRoom struct {
		State    EventList `json:"state"`
		Timeline EventList `json:"timeline"`
	}

	InvitedRoom struct {
		InviteState EventList `json:"invite_state"`
	}

	LeftRoom struct {
		Timeline EventList `json:"timeline"`
	}

	EventList struct {
		Events []RoomEvent `json:"events"`
	}

	RoomEvent struct {
		Type           string          `json:"type"`
		EventID        string          `json:"event_id,omitempty"`
		Sender         string          `json:"sender"`
		StateKey       *string         `json:"state_key,omitempty"`
		OriginServerTS int64           `json:"origin_server_ts,omitempty"`
		Content        json.RawMessage `json:"content"`
	}

	MemberContent struct {
		Membership string `json:"membership"`
	}

	TextContent struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
	}

	CreateRoomRequest struct {
		RoomVersion string   `json:"room_version"`
		Invite      []string `json:"invite"`
		Preset      string   `json:"preset"`
		IsDirect    bool     `json:"is_direct"`
	}

	CreateRoomResponse struct {
		RoomID string `json:"room_id"`
	}

	JoinResponse struct {
		RoomID string `json:"room_id"`
	}

	SendResponse struct {
		EventID string `json:"event_id"`
	}

	VersionsResponse struct {
		Versions []string `json:"versions"`
	}

	ErrorResponse struct {
		ErrCode string `json:"errcode"`
		Error   string `json:"error"`
	}
)

const (
	EventTypeMember  = "m.room.member"
	EventTypeMessage = "m.room.message"
	MsgTypeText      = "m.text"

	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"

	PresetTrustedPrivateChat = "trusted_private_chat"
	RoomVersion              = "5"
)

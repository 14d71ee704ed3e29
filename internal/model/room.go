package model

type RoomStatus string

const (
	RoomStatusUnknown RoomStatus = "unknown"
	RoomStatusInvited RoomStatus = "invited"
	RoomStatusJoined  RoomStatus = "joined"
	RoomStatusLeft    RoomStatus = "left"
)

// Room is a relay room as seen from the local user. Rooms are never deleted,
// only marked left or moved to the inactive channel set.
type Room struct {
	ID      string              `json:"id"`
	Status  RoomStatus          `json:"status"`
	Members map[string]struct{} `json:"members"`
}

func NewRoom(id string, status RoomStatus, members ...string) Room {
	r := Room{ID: id, Status: status, Members: make(map[string]struct{}, len(members))}
	for _, m := range members {
		r.Members[m] = struct{}{}
	}
	return r
}

func (r Room) Clone() Room {
	out := Room{ID: r.ID, Status: r.Status, Members: make(map[string]struct{}, len(r.Members))}
	for m := range r.Members {
		out.Members[m] = struct{}{}
	}
	return out
}

func (r Room) HasMember(userID string) bool {
	_, ok := r.Members[userID]
	return ok
}

// Merge folds a newer view of the same room into r.
func (r Room) Merge(newer Room) Room {
	out := r.Clone()
	if newer.Status != "" && newer.Status != RoomStatusUnknown {
		out.Status = newer.Status
	}
	for m := range newer.Members {
		out.Members[m] = struct{}{}
	}
	return out
}

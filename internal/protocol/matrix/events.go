package matrix

type (
	// Event is one of InviteEvent, JoinEvent, TextMessageEvent or FatalEvent.
	Event interface {
		EventNode() string
	}

	InviteEvent struct {
		Node   string
		RoomID string
		Sender string
	}

	JoinEvent struct {
		Node   string
		RoomID string
		Member string
	}

	TextMessageEvent struct {
		Node    string
		RoomID  string
		EventID string
		Sender  string
		Body    string
	}

	// FatalEvent is emitted once when the poll loop of Node gives up.
	FatalEvent struct {
		Node string
		Err  error
	}
)

func (e InviteEvent) EventNode() string      { return e.Node }
func (e JoinEvent) EventNode() string        { return e.Node }
func (e TextMessageEvent) EventNode() string { return e.Node }
func (e FatalEvent) EventNode() string       { return e.Node }

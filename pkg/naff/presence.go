package naff

// Status is a presence status string.
type Status string

// Presence statuses accepted by the gateway.
const (
	StatusOnline    Status = "online"
	StatusIdle      Status = "idle"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// ActivityType selects how an activity renders ("Playing", "Streaming", ...).
type ActivityType int

// Activity types.
const (
	ActivityGame ActivityType = iota
	ActivityStreaming
	ActivityListening
	ActivityWatching
	ActivityCustom
	ActivityCompeting
)

// Activity is one presence activity entry.
type Activity struct {
	Name string       `json:"name"`
	Type ActivityType `json:"type"`
	URL  string       `json:"url,omitempty"`
}

// Presence is the gateway presence-update payload, sent inside identify and
// with the presence-update opcode. Since is the Unix millisecond timestamp
// idling began; null means not idle.
type Presence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     Status     `json:"status"`
	AFK        bool       `json:"afk"`
}

// PresenceOnline is a minimal online presence.
func PresenceOnline(activity ...Activity) *Presence {
	return &Presence{Status: StatusOnline, Activities: activity}
}

package models

// ReadMarker is the durable "read-through" acknowledgement for one
// conversation. ReadThroughMillis is monotonic: writes with an older
// timestamp never regress the stored value.
type ReadMarker struct {
	Key              ConversationKey `json:"conversation"`
	ReadThroughMillis int64          `json:"read_through_ms"`
}

// SyncState is the lifecycle state of a QueuedSync.
type SyncState int

const (
	SyncPending SyncState = iota
	SyncSyncing
)

// QueuedSync is one pending remote read-marker write. At most one entry
// exists per conversation key; newer local writes overwrite the pending
// timestamp rather than appending.
type QueuedSync struct {
	Key              ConversationKey `json:"conversation"`
	ReadThroughMillis int64          `json:"read_through_ms"`
	RetryCount       int             `json:"retry_count"`
	State            SyncState       `json:"-"`
}

// UnreadCounts is the authoritative unread snapshot fetched from the remote
// store, and the shape of locally derived counts exposed to the UI layer.
type UnreadCounts struct {
	Direct          int            `json:"direct"`
	Clubs           int            `json:"clubs"`
	Total           int            `json:"total"`
	PerConversation map[string]int `json:"per_conversation"`
}

package feed

import (
	"context"
	"strconv"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// Status is a transport-reported subscription status.
type Status int

const (
	StatusSubscribed Status = iota
	StatusChannelError
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusChannelError:
		return "CHANNEL_ERROR"
	case StatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// ScopeKind selects what a logical subscription covers.
type ScopeKind string

const (
	// ScopeClubs covers every club conversation the user belongs to.
	ScopeClubs ScopeKind = "clubs"
	// ScopeDirect covers a single direct conversation.
	ScopeDirect ScopeKind = "direct"
)

// Filter describes one logical subscription.
type Filter struct {
	UserID int64
	Scope  ScopeKind
	// Key is set only for ScopeDirect.
	Key models.ConversationKey
}

// Label is the stable identifier used to key manager state and logs.
func (f Filter) Label() string {
	if f.Scope == ScopeDirect {
		return f.Key.String()
	}
	return string(f.Scope) + ":" + strconv.FormatInt(f.UserID, 10)
}

// Handlers receives pushes and status transitions from the transport.
// The transport may deliver duplicates and out-of-order events; ordering
// and dedup are the manager's job, not the transport's.
type Handlers struct {
	OnInsert func(ev models.MessageEvent)
	OnDelete func(ev models.DeleteEvent)
	OnStatus func(st Status)
}

// Subscription is one open change-feed channel.
type Subscription interface {
	Unsubscribe()
}

// Transport opens change-feed channels. subID is a fresh identifier per
// (re)subscribe so the upstream can distinguish a reset channel from a
// replayed one.
type Transport interface {
	Subscribe(ctx context.Context, subID string, filter Filter, h Handlers) (Subscription, error)
}

// Sink owns per-conversation message state. Implemented by the engine.
type Sink interface {
	AppendMessage(key models.ConversationKey, msg models.Message)
	RemoveMessage(key models.ConversationKey, id int64)
}

// Counter receives accepted inbound messages for unread accounting.
// Implemented by the unread aggregator, which applies its own
// self/active/read-since suppression.
type Counter interface {
	OnInboundMessage(key models.ConversationKey, senderIsSelf bool, messageMillis int64)
}

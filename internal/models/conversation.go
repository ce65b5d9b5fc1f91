package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConversationKind discriminates the two conversation scopes in Versus:
// one-to-one direct chats and club chats.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindClub   ConversationKind = "club"
)

// ConversationKey identifies a conversation. All per-conversation state in
// the sync engine is keyed by its String() form, e.g. "club:42".
type ConversationKey struct {
	Kind ConversationKind `json:"kind"`
	ID   int64            `json:"id,string"`
}

func DirectKey(id int64) ConversationKey {
	return ConversationKey{Kind: KindDirect, ID: id}
}

func ClubKey(id int64) ConversationKey {
	return ConversationKey{Kind: KindClub, ID: id}
}

func (k ConversationKey) String() string {
	return string(k.Kind) + ":" + strconv.FormatInt(k.ID, 10)
}

func (k ConversationKey) IsZero() bool {
	return k.Kind == "" && k.ID == 0
}

// ParseConversationKey parses a "kind:id" key string.
func ParseConversationKey(s string) (ConversationKey, error) {
	kind, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return ConversationKey{}, fmt.Errorf("invalid conversation key %q", s)
	}
	switch ConversationKind(kind) {
	case KindDirect, KindClub:
	default:
		return ConversationKey{}, fmt.Errorf("invalid conversation kind %q", kind)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return ConversationKey{}, fmt.Errorf("invalid conversation id %q: %w", idStr, err)
	}
	return ConversationKey{Kind: ConversationKind(kind), ID: id}, nil
}

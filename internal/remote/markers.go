package remote

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LucasandAI/versus-app-sub001/internal/models"
)

// NewPostgresPool connects to the authoritative Versus data store.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 20
	config.MinConns = 2
	return pgxpool.NewWithConfig(ctx, config)
}

// MarkerStore persists read markers and answers authoritative unread counts
// against Postgres. It is the remote side of the sync queue and of periodic
// reconciliation.
type MarkerStore struct {
	pool *pgxpool.Pool
}

func NewMarkerStore(pool *pgxpool.Pool) *MarkerStore {
	return &MarkerStore{pool: pool}
}

// UpsertReadMarkers writes a batch of read markers in one round trip. The
// upsert is idempotent and keeps the server-side marker monotonic: a replayed
// or out-of-order batch can never move a marker backwards.
func (s *MarkerStore) UpsertReadMarkers(ctx context.Context, userID int64, batch []models.ReadMarker) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, m := range batch {
		b.Queue(
			`INSERT INTO read_markers (user_id, conversation_key, read_through_ms, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (user_id, conversation_key)
			 DO UPDATE SET read_through_ms = EXCLUDED.read_through_ms, updated_at = NOW()
			 WHERE read_markers.read_through_ms < EXCLUDED.read_through_ms`,
			userID, m.Key.String(), m.ReadThroughMillis,
		)
	}

	results := s.pool.SendBatch(ctx, b)
	defer results.Close()

	for range batch {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert read marker: %w", err)
		}
	}
	return nil
}

// FetchReadMarkers returns every read marker the user has. Used to hydrate a
// fresh device where the local store is empty.
func (s *MarkerStore) FetchReadMarkers(ctx context.Context, userID int64) ([]models.ReadMarker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_key, read_through_ms
		 FROM read_markers
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []models.ReadMarker
	for rows.Next() {
		var keyStr string
		var ms int64
		if err := rows.Scan(&keyStr, &ms); err != nil {
			return nil, err
		}
		key, err := models.ParseConversationKey(keyStr)
		if err != nil {
			continue
		}
		markers = append(markers, models.ReadMarker{Key: key, ReadThroughMillis: ms})
	}
	return markers, rows.Err()
}

// FetchUnreadCounts computes authoritative unread counts for every
// conversation the user belongs to: messages from other senders newer than
// the user's server-side read marker.
func (s *MarkerStore) FetchUnreadCounts(ctx context.Context, userID int64) (models.UnreadCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.conversation_key, COUNT(*)
		 FROM conversation_members cm
		 JOIN conversation_messages m ON m.conversation_key = cm.conversation_key
		 LEFT JOIN read_markers rm
		   ON rm.user_id = cm.user_id AND rm.conversation_key = cm.conversation_key
		 WHERE cm.user_id = $1
		   AND m.sender_id <> $1
		   AND m.sent_at_ms > COALESCE(rm.read_through_ms, 0)
		 GROUP BY m.conversation_key`,
		userID,
	)
	if err != nil {
		return models.UnreadCounts{}, err
	}
	defer rows.Close()

	counts := models.UnreadCounts{PerConversation: make(map[string]int)}
	for rows.Next() {
		var keyStr string
		var n int
		if err := rows.Scan(&keyStr, &n); err != nil {
			return models.UnreadCounts{}, err
		}
		key, err := models.ParseConversationKey(keyStr)
		if err != nil || n <= 0 {
			continue
		}
		counts.PerConversation[keyStr] = n
		counts.Total += n
		switch key.Kind {
		case models.KindDirect:
			counts.Direct += n
		case models.KindClub:
			counts.Clubs += n
		}
	}
	return counts, rows.Err()
}

// MessagesSince returns messages in a conversation newer than the given
// timestamp, oldest first. Used as the catch-up fetch after a subscription
// reset; capped so a long outage cannot flood the client.
func (s *MarkerStore) MessagesSince(ctx context.Context, key models.ConversationKey, sinceMillis int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, sent_at_ms, content
		 FROM conversation_messages
		 WHERE conversation_key = $1 AND sent_at_ms > $2
		 ORDER BY sent_at_ms ASC, id ASC
		 LIMIT $3`,
		key.String(), sinceMillis, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.TimestampMillis, &m.Content); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

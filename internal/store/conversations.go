package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

const conversationCols = `id, pet_id, topic, start_time, end_time, messages, summary, key_points, emotions, fragments`

type conversationJSON struct {
	messages, keyPoints, emotions, fragments string
}

func encodeConversation(c *model.Conversation) (conversationJSON, error) {
	var out conversationJSON
	fields := []struct {
		dst *string
		v   any
	}{
		{&out.messages, nonNilMessages(c.Messages)},
		{&out.keyPoints, nonNil(c.KeyPoints)},
		{&out.emotions, c.Emotions},
		{&out.fragments, nonNil(c.Fragments)},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.v)
		if err != nil {
			return out, goerr.Wrap(err, "marshal conversation", goerr.V("id", c.ID))
		}
		*f.dst = string(data)
	}
	return out, nil
}

// CreateConversation inserts c, assigning an id when c.ID is empty.
func (db *DB) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if c.ID == "" {
		c.ID = db.NewID()
	}
	enc, err := encodeConversation(c)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, db.rebind(`
		INSERT INTO conversation_memories (`+conversationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.PetID, c.Topic, toMillis(c.StartTime), nullTime(c.EndTime),
		enc.messages, c.Summary, enc.keyPoints, enc.emotions, enc.fragments)
	if err != nil {
		return goerr.Wrap(err, "create conversation", goerr.V("pet_id", c.PetID))
	}
	return nil
}

// UpdateConversation rewrites every mutable column of c. A stored end_time
// is never cleared: closing is permanent.
func (db *DB) UpdateConversation(ctx context.Context, c *model.Conversation) error {
	enc, err := encodeConversation(c)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, db.rebind(`
		UPDATE conversation_memories SET
			topic = ?, end_time = COALESCE(end_time, ?), messages = ?, summary = ?,
			key_points = ?, emotions = ?, fragments = ?
		WHERE id = ?
	`), c.Topic, nullTime(c.EndTime), enc.messages, c.Summary,
		enc.keyPoints, enc.emotions, enc.fragments, c.ID)
	if err != nil {
		return goerr.Wrap(err, "update conversation", goerr.V("id", c.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.New("conversation not found", goerr.V("id", c.ID))
	}
	return nil
}

// GetConversation returns a conversation by id, or nil if not found.
func (db *DB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`SELECT `+conversationCols+` FROM conversation_memories WHERE id = ?`), id)
	if err != nil {
		return nil, goerr.Wrap(err, "get conversation", goerr.V("id", id))
	}
	convs, err := scanConversations(rows)
	if err != nil || len(convs) == 0 {
		return nil, err
	}
	return &convs[0], nil
}

// OpenConversation returns the pet's most recent open conversation, or nil.
func (db *DB) OpenConversation(ctx context.Context, petID string) (*model.Conversation, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT `+conversationCols+` FROM conversation_memories
		WHERE pet_id = ? AND end_time IS NULL
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`), petID)
	if err != nil {
		return nil, goerr.Wrap(err, "get open conversation", goerr.V("pet_id", petID))
	}
	convs, err := scanConversations(rows)
	if err != nil || len(convs) == 0 {
		return nil, err
	}
	return &convs[0], nil
}

// ListConversations returns a pet's conversations that started within
// [from, to], newest first. Zero bounds are open.
func (db *DB) ListConversations(ctx context.Context, petID string, from, to time.Time) ([]model.Conversation, error) {
	q := `SELECT ` + conversationCols + ` FROM conversation_memories WHERE pet_id = ?`
	args := []any{petID}
	if !from.IsZero() {
		q += ` AND start_time >= ?`
		args = append(args, toMillis(from))
	}
	if !to.IsZero() {
		q += ` AND start_time <= ?`
		args = append(args, toMillis(to))
	}
	q += ` ORDER BY start_time DESC, id DESC`

	rows, err := db.QueryContext(ctx, db.rebind(q), args...)
	if err != nil {
		return nil, goerr.Wrap(err, "list conversations", goerr.V("pet_id", petID))
	}
	return scanConversations(rows)
}

// DeleteConversation removes a conversation. Its fragments are left alone.
func (db *DB) DeleteConversation(ctx context.Context, id string) (bool, error) {
	res, err := db.ExecContext(ctx, db.rebind(`DELETE FROM conversation_memories WHERE id = ?`), id)
	if err != nil {
		return false, goerr.Wrap(err, "delete conversation", goerr.V("id", id))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanConversations(rows *sql.Rows) ([]model.Conversation, error) {
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var c model.Conversation
		var start int64
		var end sql.NullInt64
		var messages, keyPoints, emotions, fragments string
		if err := rows.Scan(&c.ID, &c.PetID, &c.Topic, &start, &end,
			&messages, &c.Summary, &keyPoints, &emotions, &fragments); err != nil {
			return nil, goerr.Wrap(err, "scan conversation")
		}
		c.StartTime = fromMillis(start)
		if end.Valid {
			t := fromMillis(end.Int64)
			c.EndTime = &t
		}
		for _, f := range []struct {
			raw string
			dst any
		}{
			{messages, &c.Messages},
			{keyPoints, &c.KeyPoints},
			{emotions, &c.Emotions},
			{fragments, &c.Fragments},
		} {
			if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
				return nil, goerr.Wrap(err, "decode conversation", goerr.V("id", c.ID))
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nonNilMessages(m []model.Message) []model.Message {
	if m == nil {
		return []model.Message{}
	}
	return m
}

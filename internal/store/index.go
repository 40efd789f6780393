package store

import (
	"context"
	"encoding/json"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// UpsertIndex writes or replaces the index row for idx.MemoryID.
func (db *DB) UpsertIndex(ctx context.Context, idx model.Index) error {
	keywords, err := json.Marshal(nonNil(idx.Keywords))
	if err != nil {
		return goerr.Wrap(err, "marshal keywords")
	}
	tags, err := json.Marshal(nonNil(idx.EmotionTags))
	if err != nil {
		return goerr.Wrap(err, "marshal emotion tags")
	}

	_, err = db.ExecContext(ctx, db.rebind(`
		INSERT INTO memory_index (memory_id, keywords, emotion_tags, importance, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (memory_id) DO UPDATE SET
			keywords = excluded.keywords,
			emotion_tags = excluded.emotion_tags,
			importance = excluded.importance,
			indexed_at = excluded.indexed_at
	`), idx.MemoryID, string(keywords), string(tags), idx.Importance, toMillis(idx.IndexedAt))
	if err != nil {
		return goerr.Wrap(err, "upsert index", goerr.V("memory_id", idx.MemoryID))
	}
	return nil
}

// GetIndexes returns the index rows for ids keyed by memory id. Ids without
// a row are absent from the map.
func (db *DB) GetIndexes(ctx context.Context, ids []string) (map[string]model.Index, error) {
	out := make(map[string]model.Index, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT memory_id, keywords, emotion_tags, importance, indexed_at
		FROM memory_index WHERE memory_id IN (`+placeholders(len(ids))+`)
	`), args...)
	if err != nil {
		return nil, goerr.Wrap(err, "get indexes")
	}
	defer rows.Close()

	for rows.Next() {
		var idx model.Index
		var keywords, tags string
		var at int64
		if err := rows.Scan(&idx.MemoryID, &keywords, &tags, &idx.Importance, &at); err != nil {
			return nil, goerr.Wrap(err, "scan index")
		}
		if err := json.Unmarshal([]byte(keywords), &idx.Keywords); err != nil {
			return nil, goerr.Wrap(err, "decode keywords", goerr.V("memory_id", idx.MemoryID))
		}
		if err := json.Unmarshal([]byte(tags), &idx.EmotionTags); err != nil {
			return nil, goerr.Wrap(err, "decode emotion tags", goerr.V("memory_id", idx.MemoryID))
		}
		idx.IndexedAt = fromMillis(at)
		out[idx.MemoryID] = idx
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

const fragmentCols = `id, pet_id, content, timestamp, emotion, importance, context, "references"`

// CreateFragment inserts f, assigning an id when f.ID is empty.
func (db *DB) CreateFragment(ctx context.Context, f *model.Fragment) error {
	if f.ID == "" {
		f.ID = db.NewID()
	}
	if f.References == nil {
		f.References = []string{}
	}
	refs, err := json.Marshal(f.References)
	if err != nil {
		return goerr.Wrap(err, "marshal references")
	}

	_, err = db.ExecContext(ctx, db.rebind(`
		INSERT INTO memories (`+fragmentCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), f.ID, f.PetID, f.Content, toMillis(f.Timestamp), nullEmotion(f.Emotion),
		f.Importance, string(f.Context), string(refs))
	if err != nil {
		return goerr.Wrap(err, "create fragment", goerr.V("pet_id", f.PetID))
	}
	return nil
}

// GetFragment returns a fragment by id, or nil if not found.
func (db *DB) GetFragment(ctx context.Context, id string) (*model.Fragment, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`SELECT `+fragmentCols+` FROM memories WHERE id = ?`), id)
	if err != nil {
		return nil, goerr.Wrap(err, "get fragment", goerr.V("id", id))
	}
	frags, err := scanFragments(rows)
	if err != nil {
		return nil, err
	}
	if len(frags) == 0 {
		return nil, nil
	}
	return &frags[0], nil
}

// ListFragments returns a pet's fragments with from <= timestamp <= to,
// newest first. Zero bounds are open.
func (db *DB) ListFragments(ctx context.Context, petID string, from, to time.Time) ([]model.Fragment, error) {
	q := `SELECT ` + fragmentCols + ` FROM memories WHERE pet_id = ?`
	args := []any{petID}
	if !from.IsZero() {
		q += ` AND timestamp >= ?`
		args = append(args, toMillis(from))
	}
	if !to.IsZero() {
		q += ` AND timestamp <= ?`
		args = append(args, toMillis(to))
	}
	q += ` ORDER BY timestamp DESC, id DESC`

	rows, err := db.QueryContext(ctx, db.rebind(q), args...)
	if err != nil {
		return nil, goerr.Wrap(err, "list fragments", goerr.V("pet_id", petID))
	}
	return scanFragments(rows)
}

// GetFragments loads the given ids in one query. Missing ids are skipped.
func (db *DB) GetFragments(ctx context.Context, ids []string) ([]model.Fragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, db.rebind(
		`SELECT `+fragmentCols+` FROM memories WHERE id IN (`+placeholders(len(ids))+`) ORDER BY timestamp ASC, id ASC`,
	), args...)
	if err != nil {
		return nil, goerr.Wrap(err, "get fragments")
	}
	return scanFragments(rows)
}

// UpdateImportance sets a fragment's importance. Returns false when the id
// does not exist.
func (db *DB) UpdateImportance(ctx context.Context, id string, importance float64) (bool, error) {
	res, err := db.ExecContext(ctx, db.rebind(`UPDATE memories SET importance = ? WHERE id = ?`), importance, id)
	if err != nil {
		return false, goerr.Wrap(err, "update importance", goerr.V("id", id))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateReferences replaces a fragment's reference list.
func (db *DB) UpdateReferences(ctx context.Context, id string, refs []string) error {
	return db.setReferences(ctx, db.DB, id, refs)
}

func (db *DB) setReferences(ctx context.Context, ex execer, id string, refs []string) error {
	if refs == nil {
		refs = []string{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return goerr.Wrap(err, "marshal references")
	}
	if _, err := ex.ExecContext(ctx, db.rebind(`UPDATE memories SET "references" = ? WHERE id = ?`), string(data), id); err != nil {
		return goerr.Wrap(err, "update references", goerr.V("id", id))
	}
	return nil
}

// DeleteFragment removes a fragment, its index row, and every reference to
// it held by other fragments. Returns false when the id does not exist.
func (db *DB) DeleteFragment(ctx context.Context, id string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, goerr.Wrap(err, "begin delete fragment")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM memory_index WHERE memory_id = ?`), id); err != nil {
		return false, goerr.Wrap(err, "delete index row", goerr.V("id", id))
	}
	res, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM memories WHERE id = ?`), id)
	if err != nil {
		return false, goerr.Wrap(err, "delete fragment", goerr.V("id", id))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if err := db.unlinkTx(ctx, tx, []string{id}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, goerr.Wrap(err, "commit delete fragment")
	}
	return true, nil
}

// unlinkTx strips the given ids from every fragment's references.
func (db *DB) unlinkTx(ctx context.Context, tx *sql.Tx, ids []string) error {
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}

	type pending struct {
		id   string
		refs []string
	}
	var updates []pending

	// The LIKE prefilter keeps this from scanning every row's JSON in Go.
	for _, id := range ids {
		rows, err := tx.QueryContext(ctx, db.rebind(`SELECT id, "references" FROM memories WHERE "references" LIKE ?`), `%"`+id+`"%`)
		if err != nil {
			return goerr.Wrap(err, "find referencing fragments", goerr.V("id", id))
		}
		for rows.Next() {
			var fid, raw string
			if err := rows.Scan(&fid, &raw); err != nil {
				rows.Close()
				return goerr.Wrap(err, "scan references")
			}
			var refs []string
			if err := json.Unmarshal([]byte(raw), &refs); err != nil {
				continue
			}
			kept := refs[:0]
			for _, r := range refs {
				if !gone[r] {
					kept = append(kept, r)
				}
			}
			if len(kept) != len(refs) {
				updates = append(updates, pending{fid, kept})
			}
		}
		rows.Close()
	}

	for _, u := range updates {
		if err := db.setReferences(ctx, tx, u.id, u.refs); err != nil {
			return err
		}
	}
	return nil
}

// PetIDs returns every pet that has a profile or owns a fragment, a
// conversation or a log.
func (db *DB) PetIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT pet_id FROM memories
		UNION
		SELECT pet_id FROM conversation_memories
		UNION
		SELECT pet_id FROM logs
		UNION
		SELECT id FROM pets
		ORDER BY pet_id
	`)
	if err != nil {
		return nil, goerr.Wrap(err, "list pet ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "scan pet id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePet removes the pet's profile and every fragment, index row,
// conversation and log it owns. References from other pets' fragments are
// stripped as well.
func (db *DB) DeletePet(ctx context.Context, petID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "begin delete pet")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, db.rebind(`SELECT id FROM memories WHERE pet_id = ?`), petID)
	if err != nil {
		return goerr.Wrap(err, "list pet fragments", goerr.V("pet_id", petID))
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return goerr.Wrap(err, "scan fragment id")
		}
		ids = append(ids, id)
	}
	rows.Close()

	stmts := []string{
		`DELETE FROM memory_index WHERE memory_id IN (SELECT id FROM memories WHERE pet_id = ?)`,
		`DELETE FROM memories WHERE pet_id = ?`,
		`DELETE FROM conversation_memories WHERE pet_id = ?`,
		`DELETE FROM logs WHERE pet_id = ?`,
		`DELETE FROM pets WHERE id = ?`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, db.rebind(s), petID); err != nil {
			return goerr.Wrap(err, "delete pet", goerr.V("pet_id", petID))
		}
	}

	if err := db.unlinkTx(ctx, tx, ids); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit delete pet")
	}
	return nil
}

func scanFragments(rows *sql.Rows) ([]model.Fragment, error) {
	defer rows.Close()

	var frags []model.Fragment
	for rows.Next() {
		var f model.Fragment
		var ts int64
		var emotion sql.NullString
		var fctx, refs string
		if err := rows.Scan(&f.ID, &f.PetID, &f.Content, &ts, &emotion, &f.Importance, &fctx, &refs); err != nil {
			return nil, goerr.Wrap(err, "scan fragment")
		}
		f.Timestamp = fromMillis(ts)
		f.Emotion = model.Emotion(emotion.String)
		f.Context = model.Context(fctx)
		if err := json.Unmarshal([]byte(refs), &f.References); err != nil {
			return nil, goerr.Wrap(err, "decode references", goerr.V("id", f.ID))
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

func nullEmotion(e model.Emotion) sql.NullString {
	return sql.NullString{String: string(e), Valid: e != ""}
}

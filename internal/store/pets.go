package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

const petCols = `id, name, species, breed, gender, age, size, behavior, diet, traits, created_at, updated_at`

// UpsertPet creates or replaces a profile. CreatedAt is kept from the first
// write; UpdatedAt is always stamped.
func (db *DB) UpsertPet(ctx context.Context, p *model.Pet) error {
	if p.Traits == nil {
		p.Traits = []string{}
	}
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return goerr.Wrap(err, "marshal traits")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = db.ExecContext(ctx, db.rebind(`
		INSERT INTO pets (`+petCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, species = excluded.species, breed = excluded.breed,
			gender = excluded.gender, age = excluded.age, size = excluded.size,
			behavior = excluded.behavior, diet = excluded.diet, traits = excluded.traits,
			updated_at = excluded.updated_at
	`), p.ID, p.Name, p.Species, p.Breed, p.Gender, p.Age, p.Size, p.Behavior, p.Diet,
		string(traits), toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return goerr.Wrap(err, "upsert pet", goerr.V("pet_id", p.ID))
	}

	// The stored created_at wins over the one we just proposed.
	stored, err := db.GetPet(ctx, p.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		p.CreatedAt = stored.CreatedAt
	}
	return nil
}

// GetPet returns a profile by id, or nil if not found.
func (db *DB) GetPet(ctx context.Context, id string) (*model.Pet, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`SELECT `+petCols+` FROM pets WHERE id = ?`), id)
	if err != nil {
		return nil, goerr.Wrap(err, "get pet", goerr.V("id", id))
	}
	pets, err := scanPets(rows)
	if err != nil || len(pets) == 0 {
		return nil, err
	}
	return &pets[0], nil
}

// ListPets returns every profile ordered by name.
func (db *DB) ListPets(ctx context.Context) ([]model.Pet, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+petCols+` FROM pets ORDER BY name, id`)
	if err != nil {
		return nil, goerr.Wrap(err, "list pets")
	}
	return scanPets(rows)
}

func scanPets(rows *sql.Rows) ([]model.Pet, error) {
	defer rows.Close()

	var pets []model.Pet
	for rows.Next() {
		var p model.Pet
		var traits string
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.Name, &p.Species, &p.Breed, &p.Gender, &p.Age,
			&p.Size, &p.Behavior, &p.Diet, &traits, &created, &updated); err != nil {
			return nil, goerr.Wrap(err, "scan pet")
		}
		if err := json.Unmarshal([]byte(traits), &p.Traits); err != nil {
			return nil, goerr.Wrap(err, "decode traits", goerr.V("id", p.ID))
		}
		p.CreatedAt = fromMillis(created)
		p.UpdatedAt = fromMillis(updated)
		pets = append(pets, p)
	}
	return pets, rows.Err()
}

const logCols = `id, pet_id, log_type, summary, content, date, sentiment, emotion, memory_id`

// CreateLog inserts l, assigning an id when l.ID is empty.
func (db *DB) CreateLog(ctx context.Context, l *model.LogEntry) error {
	if l.ID == "" {
		l.ID = db.NewID()
	}
	var sentiment sql.NullFloat64
	if l.Sentiment != nil {
		sentiment = sql.NullFloat64{Float64: *l.Sentiment, Valid: true}
	}
	memoryID := sql.NullString{String: l.FragmentID, Valid: l.FragmentID != ""}

	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO logs (`+logCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.PetID, string(l.Type), l.Summary, l.Content, toMillis(l.Date),
		sentiment, nullEmotion(l.Emotion), memoryID)
	if err != nil {
		return goerr.Wrap(err, "create log", goerr.V("pet_id", l.PetID))
	}
	return nil
}

// ListLogs returns a pet's logs with from <= date <= to, newest first. An
// empty type matches every type; zero bounds are open.
func (db *DB) ListLogs(ctx context.Context, petID string, typ model.LogType, from, to time.Time) ([]model.LogEntry, error) {
	q := `SELECT ` + logCols + ` FROM logs WHERE pet_id = ?`
	args := []any{petID}
	if typ != "" {
		q += ` AND log_type = ?`
		args = append(args, string(typ))
	}
	if !from.IsZero() {
		q += ` AND date >= ?`
		args = append(args, toMillis(from))
	}
	if !to.IsZero() {
		q += ` AND date <= ?`
		args = append(args, toMillis(to))
	}
	q += ` ORDER BY date DESC, id DESC`

	rows, err := db.QueryContext(ctx, db.rebind(q), args...)
	if err != nil {
		return nil, goerr.Wrap(err, "list logs", goerr.V("pet_id", petID))
	}
	defer rows.Close()

	var logs []model.LogEntry
	for rows.Next() {
		var l model.LogEntry
		var typ string
		var date int64
		var sentiment sql.NullFloat64
		var emotion, memoryID sql.NullString
		if err := rows.Scan(&l.ID, &l.PetID, &typ, &l.Summary, &l.Content, &date,
			&sentiment, &emotion, &memoryID); err != nil {
			return nil, goerr.Wrap(err, "scan log")
		}
		l.Type = model.LogType(typ)
		l.Date = fromMillis(date)
		if sentiment.Valid {
			v := sentiment.Float64
			l.Sentiment = &v
		}
		l.Emotion = model.Emotion(emotion.String)
		l.FragmentID = memoryID.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

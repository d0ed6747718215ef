package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"list39.org/internal/registry"
)

var _ registry.Store = (*RecordStore)(nil)

// RecordStore implements registry.Store. Nested sections are stored as JSON
// documents (jsonb on PostgreSQL, text on SQLite).
type RecordStore struct {
	s *Store
}

const recordColumns = `id, username, owner_id, agent_name, label, description, version,
	documentation_url, jurisdiction, provider, endpoints, capabilities, skills,
	evaluations, telemetry, certification, is_public, created_at, updated_at`

type recordDocs struct {
	provider, endpoints, capabilities, skills, evaluations, telemetry, certification string
}

func encodeDocs(rec *registry.Record) (recordDocs, error) {
	var (
		docs recordDocs
		err  error
	)
	enc := func(dst *string, v any, name string) {
		if err != nil {
			return
		}
		var b []byte
		if b, err = json.Marshal(v); err != nil {
			err = fmt.Errorf("encode %s: %w", name, err)
			return
		}
		*dst = string(b)
	}
	enc(&docs.provider, rec.Provider, "provider")
	enc(&docs.endpoints, rec.Endpoints, "endpoints")
	enc(&docs.capabilities, rec.Capabilities, "capabilities")
	enc(&docs.skills, rec.Skills, "skills")
	enc(&docs.evaluations, rec.Evaluations, "evaluations")
	enc(&docs.telemetry, rec.Telemetry, "telemetry")
	enc(&docs.certification, rec.Certification, "certification")
	return docs, err
}

func scanRecord(row rowScanner) (registry.Record, error) {
	var rec registry.Record
	var provider, endpoints, capabilities, skills, evals, telemetry, certification []byte
	if err := row.Scan(&rec.ID, &rec.Username, &rec.OwnerID, &rec.AgentName, &rec.Label,
		&rec.Description, &rec.Version, &rec.DocumentationURL, &rec.Jurisdiction,
		&provider, &endpoints, &capabilities, &skills, &evals, &telemetry, &certification,
		&rec.IsPublic, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return registry.Record{}, err
	}
	docs := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"provider", provider, &rec.Provider},
		{"endpoints", endpoints, &rec.Endpoints},
		{"capabilities", capabilities, &rec.Capabilities},
		{"skills", skills, &rec.Skills},
		{"evaluations", evals, &rec.Evaluations},
		{"telemetry", telemetry, &rec.Telemetry},
		{"certification", certification, &rec.Certification},
	}
	for _, d := range docs {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return registry.Record{}, fmt.Errorf("decode %s of record %s: %w", d.name, rec.ID, err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r *RecordStore) Insert(ctx context.Context, rec *registry.Record) error {
	rec.Username = registry.NormalizeUsername(rec.Username)
	docs, err := encodeDocs(rec)
	if err != nil {
		return err
	}
	now := r.s.stamp()
	_, err = r.s.db.ExecContext(ctx, r.s.q(`
		insert into agent_records (`+recordColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`), rec.ID, rec.Username, rec.OwnerID, rec.AgentName, rec.Label, rec.Description, rec.Version,
		rec.DocumentationURL, rec.Jurisdiction, docs.provider, docs.endpoints, docs.capabilities,
		docs.skills, docs.evaluations, docs.telemetry, docs.certification, rec.IsPublic, now, now)
	if err != nil {
		return mapRecordErr(err)
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (r *RecordStore) FindByID(ctx context.Context, id string) (registry.Record, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`select `+recordColumns+` from agent_records where id = $1`), id)
	return r.one(row)
}

func (r *RecordStore) FindByUsername(ctx context.Context, username string) (registry.Record, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`select `+recordColumns+` from agent_records where username = $1`),
		registry.NormalizeUsername(username))
	return r.one(row)
}

func (r *RecordStore) one(row *sql.Row) (registry.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Record{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Record{}, err
	}
	return rec, nil
}

func (r *RecordStore) ListByOwner(ctx context.Context, ownerID string) ([]registry.Record, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`
		select `+recordColumns+`
		from agent_records
		where owner_id = $1
		order by created_at desc, id desc
	`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []registry.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *RecordStore) UsernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	var taken bool
	err := r.s.db.QueryRowContext(ctx, r.s.q(`
		select exists (select 1 from agent_records where username = $1 and id <> $2)
	`), registry.NormalizeUsername(username), excludeID).Scan(&taken)
	return taken, err
}

func (r *RecordStore) Update(ctx context.Context, rec *registry.Record) error {
	rec.Username = registry.NormalizeUsername(rec.Username)
	docs, err := encodeDocs(rec)
	if err != nil {
		return err
	}
	now := r.s.stamp()
	res, err := r.s.db.ExecContext(ctx, r.s.q(`
		update agent_records set
			username = $3, agent_name = $4, label = $5, description = $6, version = $7,
			documentation_url = $8, jurisdiction = $9, provider = $10, endpoints = $11,
			capabilities = $12, skills = $13, evaluations = $14, telemetry = $15,
			certification = $16, is_public = $17, updated_at = $18
		where id = $1 and owner_id = $2
	`), rec.ID, rec.OwnerID, rec.Username, rec.AgentName, rec.Label, rec.Description, rec.Version,
		rec.DocumentationURL, rec.Jurisdiction, docs.provider, docs.endpoints, docs.capabilities,
		docs.skills, docs.evaluations, docs.telemetry, docs.certification, rec.IsPublic, now)
	if err != nil {
		return mapRecordErr(err)
	}
	if err := expectOneRow(res, registry.ErrNotFound); err != nil {
		return err
	}
	rec.UpdatedAt = now
	return nil
}

func (r *RecordStore) Delete(ctx context.Context, id, ownerID string) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(`delete from agent_records where id = $1 and owner_id = $2`), id, ownerID)
	if err != nil {
		return err
	}
	return expectOneRow(res, registry.ErrNotFound)
}

// mapRecordErr translates a unique violation into ErrDuplicateUsername.
// Username is the only unique column besides the primary key, and SQLite
// does not always name the column in its error.
func mapRecordErr(err error) error {
	detail, ok := uniqueViolation(err)
	if !ok || strings.HasSuffix(detail, "_pkey") || strings.HasSuffix(detail, "agent_records.id") {
		return err
	}
	return registry.ErrDuplicateUsername
}

func expectOneRow(res sql.Result, notFound error) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound
	}
	return nil
}

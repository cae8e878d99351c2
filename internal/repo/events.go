package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskbridge/internal/domain"
)

const eventColumns = `id,ts,type,COALESCE(organization_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) scanEvents(ctx context.Context, q Queryer, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrganizationID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return r.scanEvents(ctx, nil, query, args...)
}

// EventsAfter returns events with id greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.scanEvents(ctx, nil, `SELECT `+eventColumns+` FROM events WHERE id > ? ORDER BY id LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.queryRow(ctx, nil, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) InsertEvent(ctx context.Context, q Queryer, ts, evtType, orgID, entityKind, entityID, actorID, payload string) error {
	_, err := r.exec(ctx, q, `INSERT INTO events(ts,type,organization_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(orgID), entityKind, nullable(entityID), actorID, payload)
	return err
}

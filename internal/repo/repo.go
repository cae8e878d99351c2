package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"taskbridge/internal/db"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-swap update lost a race.
	ErrVersionConflict = errors.New("concurrent update detected")
)

// TSLayout is fixed width so that lexical order of stored timestamps equals time order.
const TSLayout = "2006-01-02T15:04:05.000000Z"

func FormatTS(t time.Time) string {
	return t.UTC().Format(TSLayout)
}

func ParseTS(s string) (time.Time, error) {
	return time.Parse(TSLayout, s)
}

func (r Repo) on(q Queryer) Queryer {
	if q == nil {
		return r.DB
	}
	return q
}

// rebind rewrites ? placeholders to $n for postgres.
func (r Repo) rebind(query string) string {
	if r.Dialect != db.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r Repo) exec(ctx context.Context, q Queryer, query string, args ...any) (sql.Result, error) {
	return r.on(q).ExecContext(ctx, r.rebind(query), args...)
}

func (r Repo) query(ctx context.Context, q Queryer, query string, args ...any) (*sql.Rows, error) {
	return r.on(q).QueryContext(ctx, r.rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, q Queryer, query string, args ...any) *sql.Row {
	return r.on(q).QueryRowContext(ctx, r.rebind(query), args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTS(*t)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func tsPtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func marshalStrings(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(in string) ([]string, error) {
	out := []string{}
	if in == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

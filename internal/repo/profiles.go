package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskbridge/internal/domain"
)

func (r Repo) InsertOrganization(ctx context.Context, q Queryer, o domain.Organization) error {
	_, err := r.exec(ctx, q, `INSERT INTO organizations(id,name,created_at) VALUES (?,?,?)`, o.ID, o.Name, FormatTS(o.CreatedAt))
	return err
}

func (r Repo) GetOrganization(ctx context.Context, q Queryer, id string) (domain.Organization, error) {
	var (
		o  domain.Organization
		ts string
	)
	err := r.queryRow(ctx, q, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).Scan(&o.ID, &o.Name, &ts)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.CreatedAt, err = ParseTS(ts)
	return o, err
}

const studentColumns = `id,name,skills_json,COALESCE(availability_band,''),rating,ratings_count,tasks_completed,created_at,updated_at`

func scanStudent(row scanner) (domain.StudentProfile, error) {
	var (
		s                  domain.StudentProfile
		skills, created, u string
	)
	if err := row.Scan(&s.ID, &s.Name, &skills, &s.AvailabilityBand, &s.Rating, &s.RatingsCount, &s.TasksCompleted, &created, &u); err != nil {
		if err == sql.ErrNoRows {
			return s, ErrNotFound
		}
		return s, err
	}
	var err error
	if s.Skills, err = unmarshalStrings(skills); err != nil {
		return s, fmt.Errorf("student %s skills: %w", s.ID, err)
	}
	if s.CreatedAt, err = ParseTS(created); err != nil {
		return s, err
	}
	s.UpdatedAt, err = ParseTS(u)
	return s, err
}

// UpsertStudent writes the collaborator-owned profile fields. Rating and completion
// counters are only touched by RecordStudentCompletion.
func (r Repo) UpsertStudent(ctx context.Context, q Queryer, s domain.StudentProfile) error {
	skills, err := marshalStrings(s.Skills)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, q, `INSERT INTO students(id,name,skills_json,availability_band,rating,ratings_count,tasks_completed,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, skills_json=excluded.skills_json, availability_band=excluded.availability_band, updated_at=excluded.updated_at`,
		s.ID, s.Name, skills, nullable(s.AvailabilityBand), s.Rating, s.RatingsCount, s.TasksCompleted, FormatTS(s.CreatedAt), FormatTS(s.UpdatedAt))
	return err
}

// RecordStudentCompletion folds one completed task and its rating into the student's
// counters in a single statement, so completions of different tasks never lose updates.
func (r Repo) RecordStudentCompletion(ctx context.Context, q Queryer, id string, rating int, at time.Time) error {
	res, err := r.exec(ctx, q, `UPDATE students SET rating=(rating*ratings_count+?)/(ratings_count+1),
ratings_count=ratings_count+1, tasks_completed=tasks_completed+1, updated_at=? WHERE id=?`,
		float64(rating), FormatTS(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetStudent(ctx context.Context, q Queryer, id string) (domain.StudentProfile, error) {
	return scanStudent(r.queryRow(ctx, q, `SELECT `+studentColumns+` FROM students WHERE id=?`, id))
}

func (r Repo) ListStudents(ctx context.Context, q Queryer) ([]domain.StudentProfile, error) {
	rows, err := r.query(ctx, q, `SELECT `+studentColumns+` FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StudentProfile
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

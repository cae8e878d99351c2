// Package matcher ranks student profiles against a task's required skills.
package matcher

import (
	"math"
	"sort"

	"taskbridge/internal/domain"
)

const DefaultScale = 100

type Options struct {
	// Scale is the score awarded for a full skill match. Zero means DefaultScale.
	Scale int
	// Exclude lists student ids left out of the result.
	Exclude map[string]struct{}
	// Limit truncates the ranking when positive.
	Limit int
}

// Score returns the overlap ratio between required and offered skills scaled to [0, scale].
// An empty requirement scores zero for everybody.
func Score(required, skills []string, scale int) int {
	if scale <= 0 {
		scale = DefaultScale
	}
	req := domain.NormalizeSkills(required)
	if len(req) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(skills))
	for _, s := range domain.NormalizeSkills(skills) {
		have[s] = struct{}{}
	}
	hits := 0
	for _, s := range req {
		if _, ok := have[s]; ok {
			hits++
		}
	}
	return int(math.Round(float64(scale) * float64(hits) / float64(len(req))))
}

// Rank orders the pool by score, then rating (high first), then completed task
// count (low first, to spread opportunity), then id.
func Rank(task domain.Task, pool []domain.StudentProfile, opts Options) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(pool))
	for _, s := range pool {
		if _, skip := opts.Exclude[s.ID]; skip {
			continue
		}
		out = append(out, domain.Candidate{Student: s, Score: Score(task.RequiredSkills, s.Skills, opts.Scale)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Student.Rating != b.Student.Rating {
			return a.Student.Rating > b.Student.Rating
		}
		if a.Student.TasksCompleted != b.Student.TasksCompleted {
			return a.Student.TasksCompleted < b.Student.TasksCompleted
		}
		return a.Student.ID < b.Student.ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

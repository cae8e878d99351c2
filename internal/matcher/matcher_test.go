package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/domain"
)

func ids(cs []domain.Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Student.ID)
	}
	return out
}

func TestScoreOverlap(t *testing.T) {
	require.Equal(t, 100, Score([]string{"go", "sql"}, []string{"SQL", "Go", "docker"}, 0))
	require.Equal(t, 50, Score([]string{"go", "sql"}, []string{"go"}, 100))
	require.Equal(t, 33, Score([]string{"a", "b", "c"}, []string{"a"}, 100))
	require.Equal(t, 0, Score([]string{"go"}, nil, 100))
	require.Equal(t, 10, Score([]string{"go"}, []string{"go"}, 10))
}

func TestRankOrderAndTieBreaks(t *testing.T) {
	task := domain.Task{RequiredSkills: []string{"go", "sql"}}
	pool := []domain.StudentProfile{
		{ID: "s-low", Skills: []string{"go"}, Rating: 5},
		{ID: "s-busy", Skills: []string{"go", "sql"}, Rating: 4, TasksCompleted: 9},
		{ID: "s-fresh", Skills: []string{"go", "sql"}, Rating: 4, TasksCompleted: 1},
		{ID: "s-star", Skills: []string{"go", "sql"}, Rating: 4.8},
		{ID: "s-b", Skills: []string{"sql"}, Rating: 5},
		{ID: "s-a", Skills: []string{"go"}, Rating: 5},
	}
	got := Rank(task, pool, Options{})
	require.Equal(t, []string{"s-star", "s-fresh", "s-busy", "s-a", "s-b", "s-low"}, ids(got))
	require.Equal(t, 100, got[0].Score)
	require.Equal(t, 50, got[3].Score)

	again := Rank(task, pool, Options{})
	require.Equal(t, got, again)
}

func TestRankEmptyRequirementKeepsEveryone(t *testing.T) {
	pool := []domain.StudentProfile{
		{ID: "b", Skills: []string{"go"}, Rating: 3},
		{ID: "a", Rating: 3},
		{ID: "c", Rating: 4.5},
	}
	got := Rank(domain.Task{}, pool, Options{})
	require.Equal(t, []string{"c", "a", "b"}, ids(got))
	for _, c := range got {
		require.Zero(t, c.Score)
	}
}

func TestRankExcludeAndLimit(t *testing.T) {
	task := domain.Task{RequiredSkills: []string{"go"}}
	pool := []domain.StudentProfile{
		{ID: "a", Skills: []string{"go"}},
		{ID: "b", Skills: []string{"go"}},
		{ID: "c", Skills: []string{"go"}},
	}
	got := Rank(task, pool, Options{Exclude: map[string]struct{}{"a": {}}, Limit: 1})
	require.Equal(t, []string{"b"}, ids(got))
}

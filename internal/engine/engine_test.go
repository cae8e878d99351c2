package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/domain"
	"taskbridge/internal/engine"
	"taskbridge/internal/migrate"
	"taskbridge/internal/repo"
)

var (
	admin = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	org   = domain.Actor{ID: "org-1", Role: domain.RoleOrganization}
	t0    = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func student(id string) domain.Actor {
	return domain.Actor{ID: id, Role: domain.RoleStudent}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Clock  *clock
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))

	clk := &clock{now: t0}
	eng := engine.New(conn, db.SQLite, config.Default(), nil)
	eng.Now = clk.Now
	ctx := context.Background()

	_, err = eng.CreateOrganization(ctx, admin, org.ID, "Acme Labs")
	require.NoError(t, err)
	for _, s := range []engine.StudentInput{
		{ID: "stu-x", Name: "Xia", Skills: []string{"Go", "SQL"}},
		{ID: "stu-y", Name: "Yann", Skills: []string{"go"}},
		{ID: "stu-z", Name: "Zoe", Skills: []string{"sql", "go", "docker"}},
	} {
		_, err := eng.UpsertStudent(ctx, admin, s)
		require.NoError(t, err)
	}
	return testEnv{Engine: eng, Clock: clk, Ctx: ctx}
}

func (env testEnv) openTask(t *testing.T, positions int) domain.Task {
	t.Helper()
	task, err := env.Engine.SubmitTask(env.Ctx, org, engine.TaskSubmission{
		Title:          "Build ingestion pipeline",
		RequiredSkills: []string{"go", "sql"},
		PositionsTotal: positions,
		DurationWeeks:  4,
		WeeklyHours:    10,
		Compensation:   120000,
	})
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, task.Status)
	task, err = env.Engine.ReviewTask(env.Ctx, admin, task.ID, domain.DecisionApprove)
	require.NoError(t, err)
	require.Equal(t, domain.TaskOpen, task.Status)
	return task
}

func (env testEnv) offer(t *testing.T, taskID, studentID string) domain.Offer {
	t.Helper()
	o, err := env.Engine.IssueOffer(env.Ctx, admin, engine.OfferRequest{TaskID: taskID, StudentID: studentID})
	require.NoError(t, err)
	return o
}

func (env testEnv) task(t *testing.T, id string) domain.Task {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, admin, id)
	require.NoError(t, err)
	return task
}

func TestFirstAcceptWins(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	a := env.offer(t, task.ID, "stu-x")
	b := env.offer(t, task.ID, "stu-y")
	require.Equal(t, domain.OfferSent, a.Status)
	require.Equal(t, t0.Add(24*time.Hour), a.ExpiresAt)
	require.Equal(t, int64(120000), a.Compensation)

	accepted, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), a.ID, domain.ActionAccept)
	require.NoError(t, err)
	require.Equal(t, domain.OfferAccepted, accepted.Status)
	got := env.task(t, task.ID)
	require.Equal(t, domain.TaskActive, got.Status)
	require.Equal(t, 1, got.PositionsFilled)

	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-y"), b.ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrCapacityExceeded)
	stillSent, err := env.Engine.GetOffer(env.Ctx, admin, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferSent, stillSent.Status)
	require.Equal(t, 1, env.task(t, task.ID).PositionsFilled)

	env.Clock.Advance(25 * time.Hour)
	lapsed, err := env.Engine.GetOffer(env.Ctx, admin, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferExpired, lapsed.Status)
}

func TestAcceptAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")

	env.Clock.Advance(25 * time.Hour)
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrOfferExpired)
	require.Equal(t, engine.KindOfferExpired, engine.KindOf(err))

	stored, err := env.Engine.Repo.GetOffer(env.Ctx, nil, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferExpired, stored.Status)

	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrOfferExpired)
	got := env.task(t, task.ID)
	require.Equal(t, domain.TaskOpen, got.Status)
	require.Zero(t, got.PositionsFilled)
}

func TestReplacementFlow(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)

	rr, err := env.Engine.ReportUnavailable(env.Ctx, org, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x", Reason: "exam period"})
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementPending, rr.Status)
	require.Equal(t, t0.Add(48*time.Hour), rr.Deadline)
	got := env.task(t, task.ID)
	require.Equal(t, domain.TaskActive, got.Status)
	require.Equal(t, 1, got.RemainingCapacity())

	_, err = env.Engine.ReportUnavailable(env.Ctx, org, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.ErrorIs(t, err, engine.ErrNoActiveAssignment)

	shortlist, err := env.Engine.ShortlistForReplacement(env.Ctx, admin, rr.ID, 0)
	require.NoError(t, err)
	require.Len(t, shortlist, 2)
	require.Equal(t, "stu-z", shortlist[0].Student.ID)
	require.Equal(t, 100, shortlist[0].Score)
	require.Equal(t, 50, shortlist[1].Score)

	sent, updated, err := env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-z"}})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, domain.ReplacementSent, updated.Status)
	require.NotNil(t, sent[0].ReplacementRequestID)
	require.Equal(t, rr.ID, *sent[0].ReplacementRequestID)

	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-z"), sent[0].ID, domain.ActionAccept)
	require.NoError(t, err)
	closed, err := env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementCompleted, closed.Status)
	require.NotNil(t, closed.FilledByOfferID)
	require.Equal(t, sent[0].ID, *closed.FilledByOfferID)
	require.False(t, env.Engine.Overdue(closed))

	got = env.task(t, task.ID)
	require.Equal(t, domain.TaskActive, got.Status)
	require.Equal(t, 1, got.PositionsFilled)

	_, _, err = env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-y"}})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestReplacementAlreadyOpen(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 2)
	for _, sid := range []string{"stu-x", "stu-y"} {
		o := env.offer(t, task.ID, sid)
		_, err := env.Engine.ResolveOffer(env.Ctx, student(sid), o.ID, domain.ActionAccept)
		require.NoError(t, err)
	}
	_, err := env.Engine.ReportUnavailable(env.Ctx, admin, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.NoError(t, err)
	_, err = env.Engine.ReportUnavailable(env.Ctx, admin, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-y"})
	require.ErrorIs(t, err, engine.ErrReplacementAlreadyOpen)
	require.Equal(t, 1, env.task(t, task.ID).PositionsFilled)
}

func TestSendReplacementOffersIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)
	rr, err := env.Engine.ReportUnavailable(env.Ctx, org, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.NoError(t, err)

	_, _, err = env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-z", "nobody"}})
	require.ErrorIs(t, err, engine.ErrNotFound)

	offers, err := env.Engine.ListTaskOffers(env.Ctx, admin, task.ID)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	stored, err := env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementPending, stored.Status)
}

func TestCompleteRequiresRating(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)

	_, err = env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{Feedback: "great"})
	require.ErrorIs(t, err, engine.ErrRatingRequired)
	six := 6
	_, err = env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{Rating: &six, Feedback: "great"})
	require.ErrorIs(t, err, engine.ErrRatingRequired)
	require.Equal(t, domain.TaskActive, env.task(t, task.ID).Status)

	four := 4
	done, err := env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{Rating: &four, Feedback: "solid work"})
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	x, err := env.Engine.GetStudent(env.Ctx, admin, "stu-x")
	require.NoError(t, err)
	require.Equal(t, 1, x.TasksCompleted)
	require.Equal(t, 1, x.RatingsCount)
	require.InDelta(t, 4.0, x.Rating, 0.0001)

	fact, err := env.Engine.Repo.GetCompletionFactByTask(env.Ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"stu-x"}, fact.StudentIDs)
	require.Equal(t, 4, fact.Rating)
	require.Equal(t, int64(120000), fact.Compensation)
}

func TestOfferOnCancelledTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 2)
	pending := env.offer(t, task.ID, "stu-x")

	cancelled, err := env.Engine.CancelTask(env.Ctx, org, task.ID, "budget cut")
	require.NoError(t, err)
	require.Equal(t, domain.TaskCancelled, cancelled.Status)

	withdrawn, err := env.Engine.GetOffer(env.Ctx, admin, pending.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferExpired, withdrawn.Status)

	_, err = env.Engine.IssueOffer(env.Ctx, admin, engine.OfferRequest{TaskID: task.ID, StudentID: "stu-y"})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestTerminalTasksRejectTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	_, err := env.Engine.CancelTask(env.Ctx, admin, task.ID, "")
	require.NoError(t, err)

	_, err = env.Engine.CancelTask(env.Ctx, admin, task.ID, "")
	require.ErrorIs(t, err, engine.ErrTerminalStateViolation)
	_, err = env.Engine.ReviewTask(env.Ctx, admin, task.ID, domain.DecisionApprove)
	require.ErrorIs(t, err, engine.ErrTerminalStateViolation)
	five := 5
	_, err = env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{Rating: &five, Feedback: "ok"})
	require.ErrorIs(t, err, engine.ErrTerminalStateViolation)
	_, err = env.Engine.ReportUnavailable(env.Ctx, admin, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.ErrorIs(t, err, engine.ErrTerminalStateViolation)
}

func TestReviewRejectAndIllegalEdges(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.SubmitTask(env.Ctx, org, engine.TaskSubmission{Title: "Survey", PositionsTotal: 1})
	require.NoError(t, err)

	_, err = env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	rejected, err := env.Engine.ReviewTask(env.Ctx, admin, task.ID, domain.DecisionReject)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCancelled, rejected.Status)
	require.Equal(t, "rejected at review", rejected.CancelReason)

	active := env.openTask(t, 1)
	o := env.offer(t, active.ID, "stu-x")
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)
	_, err = env.Engine.CancelTask(env.Ctx, org, active.ID, "")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestDuplicateOffer(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 2)
	o := env.offer(t, task.ID, "stu-x")

	_, err := env.Engine.IssueOffer(env.Ctx, admin, engine.OfferRequest{TaskID: task.ID, StudentID: "stu-x"})
	require.ErrorIs(t, err, engine.ErrDuplicateOffer)

	env.Clock.Advance(25 * time.Hour)
	renewed := env.offer(t, task.ID, "stu-x")
	require.NotEqual(t, o.ID, renewed.ID)
	stale, err := env.Engine.Repo.GetOffer(env.Ctx, nil, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferExpired, stale.Status)

	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-x"), renewed.ID, domain.ActionAccept)
	require.NoError(t, err)
	_, err = env.Engine.IssueOffer(env.Ctx, admin, engine.OfferRequest{TaskID: task.ID, StudentID: "stu-x"})
	require.ErrorIs(t, err, engine.ErrDuplicateOffer)

	_, err = env.Engine.IssueOffer(env.Ctx, admin, engine.OfferRequest{TaskID: task.ID, StudentID: "ghost"})
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCapacityExceededAtIssue(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)

	_, err = env.Engine.IssueOffer(env.Ctx, admin, engine.OfferRequest{TaskID: task.ID, StudentID: "stu-y"})
	require.ErrorIs(t, err, engine.ErrCapacityExceeded)
	var re *engine.RuleError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 1, re.Details["positions_filled"])
}

func TestResolveIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 2)
	o := env.offer(t, task.ID, "stu-x")

	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrOfferAlreadyResolved)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionDecline)
	require.ErrorIs(t, err, engine.ErrOfferAlreadyResolved)
	require.Equal(t, 1, env.task(t, task.ID).PositionsFilled)

	d := env.offer(t, task.ID, "stu-y")
	declined, err := env.Engine.ResolveOffer(env.Ctx, student("stu-y"), d.ID, domain.ActionDecline)
	require.NoError(t, err)
	require.Equal(t, domain.OfferDeclined, declined.Status)
	require.NotNil(t, declined.RespondedAt)
	require.Equal(t, 1, env.task(t, task.ID).PositionsFilled)

	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-x"), "missing", domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrOfferNotFound)
}

func TestConcurrentAcceptsRespectCapacity(t *testing.T) {
	env := newTestEnv(t)
	const racers = 8
	ids := make([]string, racers)
	for i := range ids {
		s, err := env.Engine.UpsertStudent(env.Ctx, admin, engine.StudentInput{Name: "racer", Skills: []string{"go"}})
		require.NoError(t, err)
		ids[i] = s.ID
	}
	task := env.openTask(t, 1)
	offers := make([]domain.Offer, racers)
	for i, sid := range ids {
		offers[i] = env.offer(t, task.ID, sid)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := range offers {
		wg.Add(1)
		go func(o domain.Offer) {
			defer wg.Done()
			_, err := env.Engine.ResolveOffer(env.Ctx, student(o.StudentID), o.ID, domain.ActionAccept)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, engine.ErrCapacityExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(offers[i])
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, racers-1, rejected)
	require.Equal(t, 1, env.task(t, task.ID).PositionsFilled)
}

func TestSweepsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	env.offer(t, task.ID, "stu-y")
	accepted := env.offer(t, task.ID, "stu-x")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), accepted.ID, domain.ActionAccept)
	require.NoError(t, err)
	rr, err := env.Engine.ReportUnavailable(env.Ctx, org, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.NoError(t, err)

	env.Clock.Advance(49 * time.Hour)
	now := env.Clock.Now()
	expired, err := env.Engine.ExpireStaleOffers(env.Ctx, engine.SystemActor, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "stu-y", expired[0].StudentID)
	again, err := env.Engine.ExpireStaleOffers(env.Ctx, engine.SystemActor, now)
	require.NoError(t, err)
	require.Empty(t, again)

	flagged, err := env.Engine.FlagOverdueReplacements(env.Ctx, engine.SystemActor, now)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.Equal(t, rr.ID, flagged[0].ID)
	flagged, err = env.Engine.FlagOverdueReplacements(env.Ctx, engine.SystemActor, now)
	require.NoError(t, err)
	require.Empty(t, flagged)

	overdue, err := env.Engine.ListReplacements(env.Ctx, admin, engine.ReplacementQuery{OverdueOnly: true})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.NotNil(t, overdue[0].OverdueFlaggedAt)
	require.True(t, env.Engine.Overdue(overdue[0]))

	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-y"), expired[0].ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrOfferExpired)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "replacement.overdue"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
}

func TestActorPermissions(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")

	_, err := env.Engine.IssueOffer(env.Ctx, org, engine.OfferRequest{TaskID: task.ID, StudentID: "stu-y"})
	require.ErrorIs(t, err, engine.ErrForbidden)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-y"), o.ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrForbidden)
	_, err = env.Engine.ResolveOffer(env.Ctx, org, o.ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrForbidden)

	other := domain.Actor{ID: "org-2", Role: domain.RoleOrganization}
	_, err = env.Engine.GetTask(env.Ctx, other, task.ID)
	require.ErrorIs(t, err, engine.ErrForbidden)
	_, err = env.Engine.SubmitTask(env.Ctx, other, engine.TaskSubmission{OrganizationID: org.ID, Title: "x", PositionsTotal: 1})
	require.ErrorIs(t, err, engine.ErrForbidden)
	_, err = env.Engine.SubmitTask(env.Ctx, other, engine.TaskSubmission{Title: "x", PositionsTotal: 1})
	require.ErrorIs(t, err, engine.ErrNotFound)

	_, err = env.Engine.ListStudentOffers(env.Ctx, student("stu-y"), "stu-x")
	require.ErrorIs(t, err, engine.ErrForbidden)
	mine, err := env.Engine.ListStudentOffers(env.Ctx, student("stu-x"), "stu-x")
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestRankCandidates(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	ranked, err := env.Engine.RankCandidates(env.Ctx, admin, task.ID, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	require.Equal(t, "stu-x", ranked[0].Student.ID)
	require.Equal(t, "stu-z", ranked[1].Student.ID)
}

func TestOnlyReplacementOffersCloseRequest(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 2)
	ox := env.offer(t, task.ID, "stu-x")
	oy := env.offer(t, task.ID, "stu-y")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), ox.ID, domain.ActionAccept)
	require.NoError(t, err)
	rr, err := env.Engine.ReportUnavailable(env.Ctx, org, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.NoError(t, err)

	// An offer sent before the dropout fills a slot but is not a replacement.
	accepted, err := env.Engine.ResolveOffer(env.Ctx, student("stu-y"), oy.ID, domain.ActionAccept)
	require.NoError(t, err)
	require.Nil(t, accepted.ReplacementRequestID)
	stored, err := env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementPending, stored.Status)
	require.Nil(t, stored.FilledByOfferID)
	require.Equal(t, 1, env.task(t, task.ID).PositionsFilled)

	sent, _, err := env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-z"}})
	require.NoError(t, err)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-z"), sent[0].ID, domain.ActionDecline)
	require.NoError(t, err)
	stored, err = env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementSent, stored.Status)

	sent, _, err = env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-z"}})
	require.NoError(t, err)
	env.Clock.Advance(25 * time.Hour)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-z"), sent[0].ID, domain.ActionAccept)
	require.ErrorIs(t, err, engine.ErrOfferExpired)
	stored, err = env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementSent, stored.Status)

	sent, _, err = env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-z"}})
	require.NoError(t, err)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-z"), sent[0].ID, domain.ActionAccept)
	require.NoError(t, err)
	stored, err = env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementCompleted, stored.Status)
	require.Equal(t, sent[0].ID, *stored.FilledByOfferID)
	require.Equal(t, 2, env.task(t, task.ID).PositionsFilled)
}

func TestOverdueFlagSurvivesCompletion(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 1)
	o := env.offer(t, task.ID, "stu-x")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
	require.NoError(t, err)
	rr, err := env.Engine.ReportUnavailable(env.Ctx, org, engine.UnavailabilityReport{TaskID: task.ID, StudentID: "stu-x"})
	require.NoError(t, err)

	env.Clock.Advance(49 * time.Hour)
	flagged, err := env.Engine.FlagOverdueReplacements(env.Ctx, engine.SystemActor, env.Clock.Now())
	require.NoError(t, err)
	require.Len(t, flagged, 1)

	sent, _, err := env.Engine.SendReplacementOffers(env.Ctx, admin, engine.ReplacementOffers{RequestID: rr.ID, StudentIDs: []string{"stu-z"}})
	require.NoError(t, err)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-z"), sent[0].ID, domain.ActionAccept)
	require.NoError(t, err)

	closed, err := env.Engine.GetReplacement(env.Ctx, admin, rr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReplacementCompleted, closed.Status)
	require.NotNil(t, closed.OverdueFlaggedAt)
	require.False(t, env.Engine.Overdue(closed))

	flagged, err = env.Engine.FlagOverdueReplacements(env.Ctx, engine.SystemActor, env.Clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, flagged)
}

func TestCompletionWithdrawsSentOffers(t *testing.T) {
	env := newTestEnv(t)
	task := env.openTask(t, 2)
	ox := env.offer(t, task.ID, "stu-x")
	oy := env.offer(t, task.ID, "stu-y")
	_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), ox.ID, domain.ActionAccept)
	require.NoError(t, err)

	five := 5
	_, err = env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{Rating: &five, Feedback: "done early"})
	require.NoError(t, err)

	stale, err := env.Engine.GetOffer(env.Ctx, admin, oy.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferExpired, stale.Status)
	_, err = env.Engine.ResolveOffer(env.Ctx, student("stu-y"), oy.ID, domain.ActionDecline)
	require.ErrorIs(t, err, engine.ErrOfferExpired)
}

func TestCompletionsAccumulateStudentStats(t *testing.T) {
	env := newTestEnv(t)
	for _, rating := range []int{4, 2} {
		task := env.openTask(t, 1)
		o := env.offer(t, task.ID, "stu-x")
		_, err := env.Engine.ResolveOffer(env.Ctx, student("stu-x"), o.ID, domain.ActionAccept)
		require.NoError(t, err)
		r := rating
		_, err = env.Engine.CompleteTask(env.Ctx, org, task.ID, engine.CompletionInput{Rating: &r, Feedback: "ok"})
		require.NoError(t, err)
	}
	x, err := env.Engine.GetStudent(env.Ctx, admin, "stu-x")
	require.NoError(t, err)
	require.Equal(t, 2, x.TasksCompleted)
	require.Equal(t, 2, x.RatingsCount)
	require.InDelta(t, 3.0, x.Rating, 0.0001)
}

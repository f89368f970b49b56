package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func createUser(t *testing.T, repo *Repository, name string) int64 {
	t.Helper()
	id, err := repo.CreateUser(context.Background(), User{Name: name})
	require.NoError(t, err)
	return id
}

func TestCompliance(t *testing.T) {
	assert.Equal(t, 0, Compliance(CheckIn{}))
	assert.Equal(t, 100, Compliance(CheckIn{SleepMet: true, Trained: true, DeepWorkMet: true, SkillMet: true, ZeroIncident: true, BoundariesHeld: true}))
	assert.Equal(t, 67, Compliance(CheckIn{SleepMet: true, Trained: true, DeepWorkMet: true, SkillMet: true}))
	assert.Equal(t, 17, Compliance(CheckIn{Trained: true}))
}

func TestSaveCheckInUpdatesStreak(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")

	for _, date := range []string{"2026-03-01", "2026-03-02", "2026-03-03"} {
		_, err := repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: date, ZeroIncident: true, SleepMet: true})
		require.NoError(t, err)
	}
	user, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, user.StreakDays)
	assert.Equal(t, 3, user.BestStreak)
	assert.Equal(t, "2026-03-03", user.LastCheckIn)

	// Пропуск дня обрывает серию, но не лучший результат
	saved, err := repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2026-03-06"})
	require.NoError(t, err)
	assert.Equal(t, 0, saved.Compliance)

	user, err = repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, user.StreakDays)
	assert.Equal(t, 3, user.BestStreak)
	assert.Equal(t, "2026-03-06", user.LastIncident)
}

func TestSaveCheckInOverwritesSameDay(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")

	hours := 5.0
	_, err := repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2026-03-01", SleepHours: &hours})
	require.NoError(t, err)
	_, err = repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2026-03-01", SleepMet: true})
	require.NoError(t, err)

	checkins, err := repo.RecentCheckIns(ctx, id, "2026-02-01")
	require.NoError(t, err)
	require.Len(t, checkins, 1)
	assert.True(t, checkins[0].SleepMet)
	assert.Nil(t, checkins[0].SleepHours)

	user, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, user.StreakDays)
}

func TestSaveCheckInRejectsClosedDates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")

	_, err := repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2026-03-14", SleepMet: true, ZeroIncident: true})
	require.NoError(t, err)

	// Исправление в пределах окна разрешено
	_, err = repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2026-03-12", SleepMet: true})
	require.NoError(t, err)

	_, err = repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2026-03-11"})
	assert.ErrorIs(t, err, ErrCheckInTooOld)
	_, err = repo.SaveCheckIn(ctx, CheckIn{UserID: id, Date: "2025-01-01"})
	assert.ErrorIs(t, err, ErrCheckInTooOld)

	checkins, err := repo.RecentCheckIns(ctx, id, "2025-01-01")
	require.NoError(t, err)
	require.Len(t, checkins, 2)
	assert.Equal(t, "2026-03-12", checkins[0].Date)
	assert.Equal(t, "2026-03-14", checkins[1].Date)

	user, err := repo.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", user.LastCheckIn)
}

func TestSetEmail(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")

	require.NoError(t, repo.SetEmail(ctx, id, "anya@example.com"))
	meta, err := repo.UserMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "anya@example.com", meta.Email)

	require.NoError(t, repo.SetEmail(ctx, id, ""))
	meta, err = repo.UserMeta(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, meta.Email)

	assert.ErrorIs(t, repo.SetEmail(ctx, 404, "x@example.com"), ErrUserNotFound)
}

func TestSaveCheckInUnknownUser(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.SaveCheckIn(context.Background(), CheckIn{UserID: 42, Date: "2026-03-01"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserMetaWithPeer(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")
	peerID, err := repo.CreateUser(ctx, User{Name: "Sam", ChatID: 777, Email: "sam@example.com"})
	require.NoError(t, err)

	meta, err := repo.UserMeta(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, meta.Peer)

	require.NoError(t, repo.LinkPeer(ctx, id, peerID))
	assert.Error(t, repo.LinkPeer(ctx, id, id))

	meta, err = repo.UserMeta(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, meta.Peer)
	assert.Equal(t, "Sam", meta.Peer.Name)
	assert.Equal(t, int64(777), meta.Peer.ChatID)

	_, err = repo.UserMeta(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestActiveAndSilentUsers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	fresh, err := repo.CreateUser(ctx, User{Name: "fresh", LastCheckIn: "2026-03-09"})
	require.NoError(t, err)
	silent, err := repo.CreateUser(ctx, User{Name: "silent", LastCheckIn: "2026-02-25"})
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, User{Name: "gone", LastCheckIn: "2025-12-01"})
	require.NoError(t, err)
	createUser(t, repo, "never")

	active, err := repo.ActiveUsers(ctx, "2026-03-03")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh, active[0].ID)

	quiet, err := repo.SilentUsers(ctx, "2026-02-08", "2026-03-03")
	require.NoError(t, err)
	require.Len(t, quiet, 1)
	assert.Equal(t, silent, quiet[0].ID)
}

func TestRegisterChatIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first, err := repo.RegisterChat(ctx, 100, "Аня")
	require.NoError(t, err)
	second, err := repo.RegisterChat(ctx, 100, "Аня")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordPatternOpenIgnoreEscalate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	outcome, opened, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternAbsence, Severity: SeverityWarning, DetectedAt: at})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, outcome)
	assert.NotEmpty(t, opened.ID)

	outcome, same, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternAbsence, Severity: SeverityWarning, DetectedAt: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, opened.ID, same.ID)

	outcome, lower, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternAbsence, Severity: SeverityNudge, DetectedAt: at.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, SeverityWarning, lower.Severity)

	evidence := Evidence{Summary: "4 дня без отметки", Values: map[string]float64{"days_since": 4}}
	outcome, escalated, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternAbsence, Severity: SeverityCritical, Evidence: evidence, DetectedAt: at.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)
	assert.Equal(t, opened.ID, escalated.ID)

	open, err := repo.ListPatterns(ctx, id, StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, SeverityCritical, open[0].Severity)
	assert.Equal(t, 4.0, open[0].Evidence.Values["days_since"])
}

func TestRecordPatternConcurrentOpensOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[LedgerOutcome]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternSleepDegradation, Severity: SeverityMedium})
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeOpened])
	assert.Equal(t, 7, outcomes[OutcomeUnchanged])
}

func TestResolveMissingKeepsHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	id := createUser(t, repo, "Аня")

	_, sleep, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternSleepDegradation, Severity: SeverityMedium})
	require.NoError(t, err)
	_, _, err = repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternAbsence, Severity: SeverityNudge})
	require.NoError(t, err)

	_, err = repo.SaveIntervention(ctx, Intervention{PatternID: sleep.ID, UserID: id, PatternType: sleep.Type, Severity: sleep.Severity,
		Text: "спи", Method: MethodTemplate, Target: TargetUser, UserStatus: DeliveryDelivered})
	require.NoError(t, err)

	resolved, err := repo.ResolveMissing(ctx, id, map[PatternType]bool{PatternSleepDegradation: true}, time.Now())
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, PatternAbsence, resolved[0].Type)

	all, err := repo.ListPatterns(ctx, id, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// После закрытия тот же тип открывается заново
	outcome, reopened, err := repo.RecordPattern(ctx, Pattern{UserID: id, Type: PatternAbsence, Severity: SeverityNudge})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, outcome)
	assert.NotEqual(t, resolved[0].ID, reopened.ID)

	interventions, err := repo.ListInterventions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, interventions, 1)
	assert.Equal(t, DeliveryDelivered, interventions[0].UserStatus)
}

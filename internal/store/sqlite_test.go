package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func createDream(t *testing.T, st *SQLiteStore, userID string) *Dream {
	t.Helper()
	dream := &Dream{
		UserID:         userID,
		Title:          "a dream title",
		Content:        "a dream about open water",
		Interpretation: "water often stands for emotion",
	}
	_, err := st.CreateDreamWithMessages(dream, dream.Content, dream.Interpretation, 1000, time.Time{})
	require.NoError(t, err)
	return dream
}

func TestUpsertUser(t *testing.T) {
	st := newTestStore(t)

	user, err := st.UpsertUser("auth0|abc", "first@example.com")
	require.NoError(t, err)
	assert.Equal(t, "auth0|abc", user.ID)
	assert.Equal(t, "first@example.com", user.Email)

	// Second sight refreshes the email, keeps the row.
	user, err = st.UpsertUser("auth0|abc", "second@example.com")
	require.NoError(t, err)
	assert.Equal(t, "second@example.com", user.Email)
}

func TestSubscriptionStatusDefaultsToFree(t *testing.T) {
	st := newTestStore(t)

	status, err := st.GetSubscriptionStatus("nobody")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionFree, status)

	require.NoError(t, st.SetSubscription("user-1", SubscriptionActive, "monthly"))
	status, err = st.GetSubscriptionStatus("user-1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, status)
}

func TestCreateDreamWithMessagesWritesPairAtomically(t *testing.T) {
	st := newTestStore(t)

	dream := &Dream{
		UserID:         "user-1",
		Title:          "flying",
		Content:        "I was flying over a city",
		Interpretation: "freedom and perspective",
	}
	messages, err := st.CreateDreamWithMessages(dream, dream.Content, dream.Interpretation, 3, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, dream.ID)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Sender)
	assert.Equal(t, "ai", messages[1].Sender)

	stored, err := st.GetMessagesByDreamID(dream.ID, "user-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCreateDreamWithMessagesEnforcesQuotaInTransaction(t *testing.T) {
	st := newTestStore(t)
	monthStart := time.Now().UTC().AddDate(0, 0, -1)

	for i := 0; i < 3; i++ {
		createDream(t, st, "user-1")
	}

	dream := &Dream{UserID: "user-1", Title: "t", Content: "c", Interpretation: "i"}
	_, err := st.CreateDreamWithMessages(dream, "c", "i", 3, monthStart)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// The denied attempt wrote nothing.
	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	assert.Len(t, dreams, 3)
}

func TestCreateDreamWithMessagesSubscriberBypassesQuota(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetSubscription("user-1", SubscriptionActive, "monthly"))
	for i := 0; i < 3; i++ {
		createDream(t, st, "user-1")
	}

	dream := &Dream{UserID: "user-1", Title: "t", Content: "c", Interpretation: "i"}
	_, err := st.CreateDreamWithMessages(dream, "c", "i", 3, time.Time{})
	require.NoError(t, err)
}

func TestCountDreamsSinceWindow(t *testing.T) {
	st := newTestStore(t)
	dream := createDream(t, st, "user-1")
	createDream(t, st, "user-1")

	// Backdate one dream past the window start.
	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	_, err := st.db.Exec("UPDATE dreams SET created_at = ? WHERE id = ?", lastMonth, dream.ID)
	require.NoError(t, err)

	windowStart := time.Now().UTC().AddDate(0, 0, -7)
	count, err := st.CountDreamsSince("user-1", windowStart)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAppendExchange(t *testing.T) {
	st := newTestStore(t)
	dream := createDream(t, st, "user-1")

	messages, err := st.AppendExchange(dream.ID, "user-1", "what about the waves?", "waves suggest turbulence")
	require.NoError(t, err)
	require.Len(t, messages, 2)

	stored, err := st.GetMessagesByDreamID(dream.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	// Oldest first; the appended pair sits at the end.
	assert.Equal(t, "what about the waves?", stored[2].Content)
	assert.Equal(t, "waves suggest turbulence", stored[3].Content)

	// The denormalized interpretation copy tracks the latest AI reply.
	got, err := st.GetDreamByID(dream.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "waves suggest turbulence", got.Interpretation)
}

func TestAppendExchangeOwnership(t *testing.T) {
	st := newTestStore(t)
	dream := createDream(t, st, "user-1")

	_, err := st.AppendExchange(dream.ID, "intruder", "u", "a")
	require.ErrorIs(t, err, ErrDreamNotFound)

	_, err = st.AppendExchange("missing", "user-1", "u", "a")
	require.ErrorIs(t, err, ErrDreamNotFound)
}

func TestGetDreamsByUserIDNewestFirst(t *testing.T) {
	st := newTestStore(t)
	first := createDream(t, st, "user-1")
	second := createDream(t, st, "user-1")
	createDream(t, st, "someone-else")

	_, err := st.db.Exec("UPDATE dreams SET created_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Hour), first.ID)
	require.NoError(t, err)

	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	require.Len(t, dreams, 2)
	assert.Equal(t, second.ID, dreams[0].ID)
	assert.Equal(t, first.ID, dreams[1].ID)
}

func TestDeleteDream(t *testing.T) {
	st := newTestStore(t)
	dream := createDream(t, st, "user-1")

	require.NoError(t, st.DeleteDream(dream.ID, "user-1"))

	_, err := st.GetMessagesByDreamID(dream.ID, "user-1")
	require.ErrorIs(t, err, ErrDreamNotFound)

	// Messages are gone along with the dream.
	var count int
	require.NoError(t, st.db.QueryRow("SELECT COUNT(*) FROM messages WHERE dream_id = ?", dream.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestDeleteDreamNotFound(t *testing.T) {
	st := newTestStore(t)
	dream := createDream(t, st, "user-1")

	require.ErrorIs(t, st.DeleteDream("missing", "user-1"), ErrDreamNotFound)
	require.ErrorIs(t, st.DeleteDream(dream.ID, "intruder"), ErrDreamNotFound)
}

func TestGetMessagesOwnership(t *testing.T) {
	st := newTestStore(t)
	dream := createDream(t, st, "user-1")

	_, err := st.GetMessagesByDreamID(dream.ID, "intruder")
	require.ErrorIs(t, err, ErrDreamNotFound)
}

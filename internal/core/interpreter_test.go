package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneira.app/dream-interpreter/internal/config"
	"oneira.app/dream-interpreter/internal/gateway"
	"oneira.app/dream-interpreter/internal/store"
)

type fakeGateway struct {
	reply string
	err   error
	calls int
}

func (f *fakeGateway) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestService(t *testing.T, st *store.SQLiteStore, gw gateway.Gateway, mode string) *InterpreterService {
	t.Helper()
	return NewInterpreterService(st, gw, NewQuotaLedger(st), mode)
}

// seedDreams creates n dreams for the user, bypassing the free-tier limit.
func seedDreams(t *testing.T, st *store.SQLiteStore, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		dream := &store.Dream{
			UserID:         userID,
			Title:          "seeded dream",
			Content:        "a seeded dream about the sea",
			Interpretation: "seeded interpretation",
		}
		_, err := st.CreateDreamWithMessages(dream, dream.Content, dream.Interpretation, 1000, monthStartUTC(time.Now()))
		require.NoError(t, err)
	}
}

func TestInterpretFirstDream(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{reply: "A flying dream often speaks of freedom and perspective."}
	svc := newTestService(t, st, gw, config.ModeNarrative)

	result, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText: "I dreamed I was flying over a city",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, gw.reply, result.Reply)
	assert.False(t, result.IsContinuation)
	assert.NotEmpty(t, result.DreamID)
	assert.False(t, result.Remaining.Unlimited)
	assert.Equal(t, 2, result.Remaining.Count)
	assert.Nil(t, result.Interpretation)

	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	require.Len(t, dreams, 1)
	assert.Equal(t, "I dreamed I was flying over a city", dreams[0].Title)
	assert.Equal(t, gw.reply, dreams[0].Interpretation)

	messages, err := st.GetMessagesByDreamID(result.DreamID, "user-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Sender)
	assert.Equal(t, "ai", messages[1].Sender)
}

func TestInterpretDeniedAtLimit(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{reply: "should never be generated"}
	svc := newTestService(t, st, gw, config.ModeNarrative)
	seedDreams(t, st, "user-1", 3)

	_, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText: "my fourth dream this month, about falling",
	})
	require.ErrorIs(t, err, ErrLimitReached)

	// Denial is terminal: no model call, no rows written.
	assert.Equal(t, 0, gw.calls)
	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	assert.Len(t, dreams, 3)
}

func TestInterpretSubscriberBypassesLimit(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{reply: "an interpretation"}
	svc := newTestService(t, st, gw, config.ModeNarrative)
	seedDreams(t, st, "user-1", 5)
	require.NoError(t, st.SetSubscription("user-1", store.SubscriptionActive, "monthly"))

	result, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText: "a dream well past the free limit",
	})
	require.NoError(t, err)
	assert.True(t, result.Remaining.Unlimited)
	assert.Equal(t, 1, gw.calls)
}

func TestInterpretContinuation(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{reply: "a deeper look at the same dream"}
	svc := newTestService(t, st, gw, config.ModeNarrative)

	// Use up the whole free quota first; continuations must still pass.
	seedDreams(t, st, "user-1", 3)
	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	dreamID := dreams[0].ID

	result, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText:      "what does the water mean in that dream?",
		DreamID:        dreamID,
		IsContinuation: true,
	})
	require.NoError(t, err)

	assert.True(t, result.IsContinuation)
	assert.Equal(t, dreamID, result.DreamID)

	// No new dream row, two more messages on the existing thread.
	dreams, err = st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	assert.Len(t, dreams, 3)

	messages, err := st.GetMessagesByDreamID(dreamID, "user-1")
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestInterpretContinuationUnknownDream(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st, &fakeGateway{reply: "reply"}, config.ModeNarrative)

	_, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText:      "a follow-up for a dream that is not mine",
		DreamID:        "no-such-dream",
		IsContinuation: true,
	})
	require.ErrorIs(t, err, store.ErrDreamNotFound)
}

func TestInterpretGatewayFallback(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{err: &gateway.GatewayError{Kind: gateway.KindConfiguration, Err: errors.New("no key")}}
	svc := newTestService(t, st, gw, config.ModeNarrative)

	result, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText: "I dreamed the power went out everywhere",
	})
	require.NoError(t, err)

	// The canned interpretation still counts and is still persisted.
	assert.Contains(t, result.Reply, "Thank you for sharing your dream")
	assert.Equal(t, 2, result.Remaining.Count)
	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	require.Len(t, dreams, 1)
	assert.Equal(t, result.Reply, dreams[0].Interpretation)
}

func TestInterpretGatewayRateLimitSurfaces(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{err: &gateway.GatewayError{Kind: gateway.KindRateLimit, Err: errors.New("quota exhausted")}}
	svc := newTestService(t, st, gw, config.ModeNarrative)

	_, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText: "a dream during a provider rate limit",
	})

	var gwErr *gateway.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gateway.KindRateLimit, gwErr.Kind)

	// Nothing was written.
	dreams, err := st.GetDreamsByUserID("user-1")
	require.NoError(t, err)
	assert.Empty(t, dreams)
}

func TestInterpretValidation(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{reply: "reply"}
	svc := newTestService(t, st, gw, config.ModeNarrative)

	t.Run("too short", func(t *testing.T) {
		_, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{DreamText: "short"})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("continuation without dream id", func(t *testing.T) {
		_, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
			DreamText:      "a long enough continuation text",
			IsContinuation: true,
		})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	assert.Equal(t, 0, gw.calls)
}

func TestInterpretStructuredMode(t *testing.T) {
	st := newTestStore(t)
	gw := &fakeGateway{reply: "no JSON here, just prose about your dream"}
	svc := newTestService(t, st, gw, config.ModeStructured)

	result, err := svc.Interpret(context.Background(), "user-1", InterpretRequest{
		DreamText: "I dreamed of an endless library",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Interpretation)
	assertComplete(t, *result.Interpretation)
	assert.Equal(t, defaultTags(), result.Interpretation.Tags)

	require.NotNil(t, result.Metadata)
	assert.Equal(t, config.ModeStructured, result.Metadata.ResponseMode)
	assert.Equal(t, gateway.ModelName, result.Metadata.Model)
}

func TestDeriveTitle(t *testing.T) {
	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, deriveTitle(exact))

	long := strings.Repeat("b", 51)
	title := deriveTitle(long)
	assert.Len(t, title, 50)
	assert.True(t, strings.HasSuffix(title, "..."))

	short := "A short dream"
	assert.Equal(t, short, deriveTitle(short))
}

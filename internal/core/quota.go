package core

import (
	"encoding/json"
	"fmt"
	"time"

	"oneira.app/dream-interpreter/internal/store"
)

// FreeMonthlyLimit is the number of interpretations a free-tier user gets
// per calendar month. Active subscribers are unmetered.
const FreeMonthlyLimit = 3

// Remaining is the quota left this month. It marshals as a number, or as
// the string "unlimited" for active subscribers, matching the wire format
// clients branch on.
type Remaining struct {
	Unlimited bool
	Count     int
}

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(r.Count)
}

// Decision is the quota ledger's verdict for one request.
type Decision struct {
	Allowed      bool
	Usage        int
	IsSubscribed bool
	Remaining    Remaining
}

// QuotaLedger computes per-calendar-month usage and decides admission.
// The admission read here is advisory: the store re-checks it inside the
// dream-insert transaction, so concurrent requests cannot overspend.
type QuotaLedger struct {
	dbStore *store.SQLiteStore
}

func NewQuotaLedger(db *store.SQLiteStore) *QuotaLedger {
	return &QuotaLedger{dbStore: db}
}

// monthStartUTC returns midnight UTC on the first day of t's month.
func monthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Evaluate decides whether a request may proceed. Continuations skip the
// usage check entirely: existing conversations are never cut off mid-thread.
func (l *QuotaLedger) Evaluate(userID string, isContinuation bool) (Decision, error) {
	if isContinuation {
		return Decision{Allowed: true}, nil
	}

	decision, err := l.Status(userID)
	if err != nil {
		return Decision{}, err
	}
	decision.Allowed = decision.IsSubscribed || decision.Usage < FreeMonthlyLimit
	return decision, nil
}

// Status reports current usage and remaining quota without an admission
// verdict. The orchestrator calls this again after persisting, so a
// just-used interpretation is reflected in the count returned.
func (l *QuotaLedger) Status(userID string) (Decision, error) {
	usage, err := l.dbStore.CountDreamsSince(userID, monthStartUTC(time.Now()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count usage: %w", err)
	}

	status, err := l.dbStore.GetSubscriptionStatus(userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read subscription: %w", err)
	}

	subscribed := status == store.SubscriptionActive
	remaining := Remaining{Unlimited: subscribed}
	if !subscribed {
		remaining.Count = FreeMonthlyLimit - usage
		if remaining.Count < 0 {
			remaining.Count = 0
		}
	}

	return Decision{Usage: usage, IsSubscribed: subscribed, Remaining: remaining}, nil
}

package store

import "time"

type User struct {
	ID        string    `json:"id"` // Subject claim from the identity provider
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Dream struct {
	ID             string    `json:"id"` // UUID
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Interpretation string    `json:"interpretation"` // Denormalized copy of the latest AI reply
	CreatedAt      time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"` // UUID
	DreamID   string    `json:"dream_id"`
	Sender    string    `json:"sender"` // "user" or "ai"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription status values. Anything other than "active" leaves the
// free-tier quota in force, including a missing row entirely.
const (
	SubscriptionFree      = "free"
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
)

type Subscription struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	PlanType  string    `json:"plan_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"oneira.app/dream-interpreter/internal/config"
	"oneira.app/dream-interpreter/internal/gateway"
	"oneira.app/dream-interpreter/internal/store"
)

// ErrLimitReached means the free-tier quota is spent. The handler maps it
// to HTTP 402 with the machine-checkable limit_reached flag.
var ErrLimitReached = errors.New("free interpretation limit reached, please subscribe for unlimited access")

const minDreamTextRunes = 10

// ValidationError marks a malformed or too-short request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

type InterpretRequest struct {
	DreamText      string `json:"dreamText"`
	DreamID        string `json:"dreamId,omitempty"`
	IsContinuation bool   `json:"isContinuation,omitempty"`
}

type Metadata struct {
	DreamLength  int       `json:"dream_length"`
	Model        string    `json:"model"`
	ResponseMode string    `json:"response_mode"`
	Timestamp    time.Time `json:"timestamp"`
}

type InterpretResult struct {
	Reply          string
	DreamID        string
	Remaining      Remaining
	IsContinuation bool

	// Structured mode only.
	Interpretation *InterpretationRecord
	Metadata       *Metadata
}

// InterpreterService orchestrates one interpretation request: quota check,
// model call, normalization, persistence, final quota recount. Dependencies
// are constructed once per process and injected; nothing here is shared
// mutable state.
type InterpreterService struct {
	dbStore *store.SQLiteStore
	gw      gateway.Gateway
	ledger  *QuotaLedger
	mode    string
}

func NewInterpreterService(db *store.SQLiteStore, gw gateway.Gateway, ledger *QuotaLedger, responseMode string) *InterpreterService {
	return &InterpreterService{
		dbStore: db,
		gw:      gw,
		ledger:  ledger,
		mode:    responseMode,
	}
}

// Interpret runs the full flow for an authenticated user. The quota denial
// happens before any model call and writes nothing; gateway outages (other
// than rate limiting) degrade to a canned interpretation that is still
// persisted and still counted.
func (s *InterpreterService) Interpret(ctx context.Context, userID string, req InterpretRequest) (*InterpretResult, error) {
	text := strings.TrimSpace(req.DreamText)
	if utf8.RuneCountInString(text) < minDreamTextRunes {
		return nil, &ValidationError{Reason: "Dream description must be at least 10 characters long."}
	}
	if req.IsContinuation && req.DreamID == "" {
		return nil, &ValidationError{Reason: "A continuation request must include dreamId."}
	}

	decision, err := s.ledger.Evaluate(userID, req.IsContinuation)
	if err != nil {
		return nil, fmt.Errorf("quota evaluation failed: %w", err)
	}
	if !decision.Allowed {
		return nil, ErrLimitReached
	}

	reply, err := s.generate(ctx, userID, text)
	if err != nil {
		return nil, err
	}

	var record *InterpretationRecord
	if s.mode == config.ModeStructured {
		normalized := Normalize(reply)
		record = &normalized
	}

	dreamID, err := s.persist(userID, req, text, reply)
	if err != nil {
		return nil, err
	}

	// Recompute after the write so the interpretation just spent shows up
	// in the remaining count.
	status, err := s.ledger.Status(userID)
	if err != nil {
		log.Printf("Failed to recompute quota for user %s: %v", userID, err)
		status = Decision{}
	}

	result := &InterpretResult{
		Reply:          reply,
		DreamID:        dreamID,
		Remaining:      status.Remaining,
		IsContinuation: req.IsContinuation,
		Interpretation: record,
	}
	if record != nil {
		result.Metadata = &Metadata{
			DreamLength:  utf8.RuneCountInString(text),
			Model:        gateway.ModelName,
			ResponseMode: s.mode,
			Timestamp:    time.Now().UTC(),
		}
	}
	return result, nil
}

func (s *InterpreterService) generate(ctx context.Context, userID, text string) (string, error) {
	prompt := gateway.NarrativePrompt(text)
	if s.mode == config.ModeStructured {
		prompt = gateway.StructuredPrompt(text)
	}

	reply, err := s.gw.Generate(ctx, prompt)
	if err == nil {
		return reply, nil
	}

	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) && gwErr.Kind == gateway.KindRateLimit {
		return "", err
	}

	log.Printf("Gateway unavailable for user %s, substituting fallback interpretation: %v", userID, err)
	return gateway.FallbackInterpretation(text), nil
}

// persist writes the exchange. Both branches write the user/ai message
// pair in one transaction. Storage failures are logged, not surfaced: the
// user still gets their interpretation even when the write is lost. The
// two exceptions are the transactional quota recount losing to a
// concurrent request, and a continuation naming an unknown dream.
func (s *InterpreterService) persist(userID string, req InterpretRequest, text, reply string) (string, error) {
	if req.IsContinuation {
		if _, err := s.dbStore.AppendExchange(req.DreamID, userID, text, reply); err != nil {
			if errors.Is(err, store.ErrDreamNotFound) {
				return "", err
			}
			log.Printf("Failed to append exchange to dream %s for user %s: %v", req.DreamID, userID, err)
		}
		return req.DreamID, nil
	}

	dream := &store.Dream{
		UserID:         userID,
		Title:          deriveTitle(text),
		Content:        text,
		Interpretation: reply,
	}
	_, err := s.dbStore.CreateDreamWithMessages(dream, text, reply, FreeMonthlyLimit, monthStartUTC(time.Now()))
	if err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			// A concurrent request won the last free slot between the
			// ledger read and this commit.
			return "", ErrLimitReached
		}
		log.Printf("Failed to persist dream for user %s: %v", userID, err)
		return "", nil
	}
	return dream.ID, nil
}

// deriveTitle keeps the full content when it fits in 50 characters,
// otherwise the first 47 characters plus an ellipsis.
func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= 50 {
		return content
	}
	return string(runes[:47]) + "..."
}

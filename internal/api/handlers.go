package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"oneira.app/dream-interpreter/internal/auth"
	"oneira.app/dream-interpreter/internal/core"
	"oneira.app/dream-interpreter/internal/gateway"
	"oneira.app/dream-interpreter/internal/store"
)

type APIHandler struct {
	interpreter *core.InterpreterService
	ledger      *core.QuotaLedger
	dbStore     *store.SQLiteStore
	devMode     bool
}

func NewAPIHandler(interpreter *core.InterpreterService, ledger *core.QuotaLedger, db *store.SQLiteStore, devMode bool) *APIHandler {
	return &APIHandler{
		interpreter: interpreter,
		ledger:      ledger,
		dbStore:     db,
		devMode:     devMode,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required", "")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		identity, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", "")
			return
		}

		// First authenticated request creates the local user row; later
		// ones keep the email current with the identity provider.
		user, err := h.dbStore.UpsertUser(identity.UserID, identity.Email)
		if err != nil {
			log.Printf("Error upserting user %s: %v", identity.UserID, err)
			writeError(w, http.StatusInternalServerError, "Failed to process user identity", h.details(err))
			return
		}

		ctx := context.WithValue(r.Context(), "userID", user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type InterpretResponse struct {
	Success             bool                       `json:"success,omitempty"`
	Reply               string                     `json:"reply"`
	DreamID             string                     `json:"dream_id,omitempty"`
	InterpretationsLeft core.Remaining             `json:"interpretations_left"`
	IsContinuation      bool                       `json:"is_continuation"`
	Interpretation      *core.InterpretationRecord `json:"interpretation,omitempty"`
	Metadata            *core.Metadata             `json:"metadata,omitempty"`
}

func (h *APIHandler) InterpretHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(string)

	var req core.InterpretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", h.details(err))
		return
	}

	result, err := h.interpreter.Interpret(r.Context(), userID, req)
	if err != nil {
		h.writeInterpretError(w, userID, err)
		return
	}

	resp := InterpretResponse{
		Success:             result.Interpretation != nil,
		Reply:               result.Reply,
		DreamID:             result.DreamID,
		InterpretationsLeft: result.Remaining,
		IsContinuation:      result.IsContinuation,
		Interpretation:      result.Interpretation,
		Metadata:            result.Metadata,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) writeInterpretError(w http.ResponseWriter, userID string, err error) {
	var validationErr *core.ValidationError
	var gwErr *gateway.GatewayError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Reason, "")
	case errors.Is(err, core.ErrLimitReached):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":         "Free interpretation limit reached. Please subscribe for unlimited access.",
			"limit_reached": true,
		})
	case errors.Is(err, store.ErrDreamNotFound):
		writeError(w, http.StatusNotFound, "Dream not found", "")
	case errors.As(err, &gwErr) && gwErr.Kind == gateway.KindRateLimit:
		log.Printf("Gateway rate limited for user %s: %v", userID, err)
		writeError(w, http.StatusTooManyRequests, "The dream interpretation service is temporarily busy. Please try again in a moment.", h.details(err))
	default:
		log.Printf("Interpretation failed for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again.", h.details(err))
	}
}

func (h *APIHandler) ListDreamsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(string)

	dreams, err := h.dbStore.GetDreamsByUserID(userID)
	if err != nil {
		log.Printf("Error listing dreams for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list dreams", h.details(err))
		return
	}
	if dreams == nil {
		dreams = []store.Dream{}
	}
	writeJSON(w, http.StatusOK, dreams)
}

func (h *APIHandler) GetDreamMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(string)
	dreamID := chi.URLParam(r, "dreamID")

	messages, err := h.dbStore.GetMessagesByDreamID(dreamID, userID)
	if err != nil {
		if errors.Is(err, store.ErrDreamNotFound) {
			writeError(w, http.StatusNotFound, "Dream not found", "")
			return
		}
		log.Printf("Error getting messages for user %s, dream %s: %v", userID, dreamID, err)
		writeError(w, http.StatusInternalServerError, "Failed to get dream messages", h.details(err))
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) DeleteDreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(string)
	dreamID := chi.URLParam(r, "dreamID")

	err := h.dbStore.DeleteDream(dreamID, userID)
	if err != nil {
		if errors.Is(err, store.ErrDreamNotFound) {
			writeError(w, http.StatusNotFound, "Dream not found", "")
			return
		}
		log.Printf("Error deleting dream %s for user %s: %v", dreamID, userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete dream", h.details(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type QuotaResponse struct {
	UsageThisMonth int            `json:"usage_this_month"`
	IsSubscribed   bool           `json:"is_subscribed"`
	Remaining      core.Remaining `json:"remaining"`
}

func (h *APIHandler) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(string)

	status, err := h.ledger.Status(userID)
	if err != nil {
		log.Printf("Error computing quota for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to compute quota", h.details(err))
		return
	}

	writeJSON(w, http.StatusOK, QuotaResponse{
		UsageThisMonth: status.Usage,
		IsSubscribed:   status.IsSubscribed,
		Remaining:      status.Remaining,
	})
}

// details returns the underlying error text only in development mode;
// production responses carry the generic message alone.
func (h *APIHandler) details(err error) string {
	if h.devMode && err != nil {
		return err.Error()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]any{"error": message}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

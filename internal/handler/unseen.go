package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/middleware"
	"github.com/shoplane/chat-pipeline/internal/unseen"
	"github.com/shoplane/chat-pipeline/pkg/logger"
)

// UnseenHandler serves unread-counter lookups for page loads.
type UnseenHandler struct {
	ledger unseen.Ledger
	log    *logger.Logger
}

// NewUnseenHandler creates an unseen-count handler.
func NewUnseenHandler(ledger unseen.Ledger, log *logger.Logger) *UnseenHandler {
	return &UnseenHandler{ledger: ledger, log: log}
}

// Get handles GET /api/v1/unseen?identity=seller_42&conversationId=c1
func (h *UnseenHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	conversationID := r.URL.Query().Get("conversationId")

	if err := middleware.ValidateIdentity(identity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.ledger.Get(r.Context(), identity, conversationID)
	if err != nil {
		h.log.Error("unseen lookup failed",
			zap.String("identity", identity),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"count":          count,
	})
}

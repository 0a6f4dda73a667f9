package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/httpx"
	"github.com/faqforge/faqforge/internal/identity"
	"github.com/faqforge/faqforge/internal/rag"
	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// ChatHandler exposes the RAG query path and conversation history.
type ChatHandler struct {
	orch     *rag.Orchestrator
	identity *identity.Service
	logger   zerolog.Logger
}

func NewChatHandler(orch *rag.Orchestrator, identitySvc *identity.Service, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		orch:     orch,
		identity: identitySvc,
		logger:   logger.With().Str("component", "chat_api").Logger(),
	}
}

// Routes mounts the chat surface behind both gates.
func (h *ChatHandler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(HMACGate(h.identity))
		r.Use(BearerGate(h.identity))

		r.Post("/v1/chat/query", h.query)
		r.Get("/v1/chat/conversations", h.listConversations)
		r.Get("/v1/chat/conversations/{conversationID}/messages", h.listMessages)
		r.Delete("/v1/chat/conversations/{conversationID}", h.deleteConversation)
	})
}

type conversationView struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Title          string    `json:"title"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func viewConversation(c postgres.Conversation) conversationView {
	return conversationView{
		ConversationID: c.ID,
		Title:          c.Title,
		MessageCount:   c.MessageCount,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

type messageView struct {
	MessageID uuid.UUID            `json:"message_id"`
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	Sources   []postgres.SourceRef `json:"sources,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

func viewMessage(m postgres.Message) messageView {
	return messageView{
		MessageID: m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Sources:   m.Sources,
		CreatedAt: m.CreatedAt,
	}
}

func (h *ChatHandler) query(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	user, _ := UserFromContext(r.Context())

	var req struct {
		Query          string `json:"query"`
		ConversationID string `json:"conversation_id"`
		Stream         bool   `json:"stream"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	in := rag.QueryInput{OrgID: org.ID, UserID: user.ID, Query: req.Query}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			apierr.Write(w, apierr.ErrValidation.WithDetails(map[string]any{"conversation_id": "must be a UUID"}))
			return
		}
		in.ConversationID = &id
	}

	if req.Stream {
		h.streamQuery(w, r, in)
		return
	}

	answer, err := h.orch.Query(r.Context(), in)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "query answered", map[string]any{
		"conversation_id": answer.ConversationID,
		"message":         viewMessage(answer.Message),
		"sources":         answer.Sources,
	})
}

// streamQuery renders the answer as server-sent events: one "token" event per
// generated fragment, then a terminal "done" event carrying the persisted
// message and its sources.
func (h *ChatHandler) streamQuery(w http.ResponseWriter, r *http.Request, in rag.QueryInput) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.Write(w, apierr.ErrInternal.WithMessage("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	answer, err := h.orch.QueryStream(r.Context(), in, func(token string) error {
		if err := r.Context().Err(); err != nil {
			return err
		}
		writeSSE(w, "token", map[string]any{"token": token})
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already out; the error becomes a terminal event.
		apiErr := apierr.From(err)
		writeSSE(w, "error", map[string]any{"error_code": apiErr.Code, "message": apiErr.Message})
		flusher.Flush()
		return
	}

	writeSSE(w, "done", map[string]any{
		"conversation_id": answer.ConversationID,
		"message":         viewMessage(answer.Message),
		"sources":         answer.Sources,
	})
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(payload) + "\n\n"))
}

func (h *ChatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	user, _ := UserFromContext(r.Context())

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	conversations, err := h.orch.ListConversations(r.Context(), org.ID, user.ID, limit, offset)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	views := make([]conversationView, 0, len(conversations))
	for _, c := range conversations {
		views = append(views, viewConversation(c))
	}
	httpx.WriteJSON(w, http.StatusOK, "conversations listed", map[string]any{"conversations": views})
}

func (h *ChatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	user, _ := UserFromContext(r.Context())

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		apierr.Write(w, apierr.ErrConversationNotFound)
		return
	}

	conv, messages, err := h.orch.History(r.Context(), org.ID, user.ID, conversationID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, viewMessage(m))
	}
	httpx.WriteJSON(w, http.StatusOK, "messages listed", map[string]any{
		"conversation": viewConversation(conv),
		"messages":     views,
	})
}

func (h *ChatHandler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	user, _ := UserFromContext(r.Context())

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		apierr.Write(w, apierr.ErrConversationNotFound)
		return
	}

	if err := h.orch.DeleteConversation(r.Context(), org.ID, user.ID, conversationID); err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "conversation deleted", nil)
}

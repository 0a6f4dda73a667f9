package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/faqforge/faqforge/internal/rag"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/vector"
)

type chatStore struct {
	conversations map[uuid.UUID]postgres.Conversation
	messages      map[uuid.UUID][]postgres.Message
}

func newChatStore() *chatStore {
	return &chatStore{
		conversations: map[uuid.UUID]postgres.Conversation{},
		messages:      map[uuid.UUID][]postgres.Message{},
	}
}

func (s *chatStore) CreateConversation(ctx context.Context, orgID, userID uuid.UUID, title string) (postgres.Conversation, error) {
	conv := postgres.Conversation{ID: uuid.New(), OrgID: orgID, UserID: userID, Title: title, CreatedAt: time.Now()}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *chatStore) GetConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) (postgres.Conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.OrgID != orgID || conv.UserID != userID {
		return postgres.Conversation{}, postgres.ErrNotFound
	}
	return conv, nil
}

func (s *chatStore) ListConversations(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]postgres.Conversation, error) {
	var out []postgres.Conversation
	for _, c := range s.conversations {
		if c.OrgID == orgID && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *chatStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, sources []postgres.SourceRef) (postgres.Message, error) {
	msg := postgres.Message{ID: uuid.New(), ConversationID: conversationID, Role: role, Content: content, Sources: sources, CreatedAt: time.Now()}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv := s.conversations[conversationID]
	conv.MessageCount++
	s.conversations[conversationID] = conv
	return msg, nil
}

func (s *chatStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]postgres.Message, error) {
	return s.messages[conversationID], nil
}

func (s *chatStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]postgres.Message, error) {
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *chatStore) DeleteConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) error {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.OrgID != orgID || conv.UserID != userID {
		return postgres.ErrNotFound
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubIndex struct {
	matches []vector.Match
}

func (s *stubIndex) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) error {
	return nil
}

func (s *stubIndex) Query(ctx context.Context, namespace string, values []float32, topK int) ([]vector.Match, error) {
	return s.matches, nil
}

func (s *stubIndex) DeleteByDocument(ctx context.Context, namespace string, documentID uuid.UUID) error {
	return nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "The refund window is 30 days [1].", nil
}

func (stubGenerator) GenerateStream(ctx context.Context, prompt string, onToken func(string) error) error {
	for _, tok := range []string{"The refund ", "window is ", "30 days [1]."} {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

type chatEnv struct {
	*env
	store *chatStore
}

func newChatEnv(t *testing.T, matches []vector.Match) *chatEnv {
	t.Helper()
	e := newEnv(t)
	store := newChatStore()
	orch := rag.New(store, stubEmbedder{}, &stubIndex{matches: matches}, stubGenerator{}, rag.Config{}, zerolog.Nop())

	router := chi.NewRouter()
	NewIdentityHandler(e.svc, zerolog.Nop()).Routes(router)
	NewChatHandler(orch, e.svc, zerolog.Nop()).Routes(router)
	e.router = router
	return &chatEnv{env: e, store: store}
}

func refundMatch(docID uuid.UUID) vector.Match {
	return vector.Match{
		ID:    vector.ChunkID(docID, 0),
		Score: 0.82,
		Metadata: map[string]any{
			vector.MetaDocumentID: docID.String(),
			vector.MetaFilename:   "policy.pdf",
			vector.MetaChunkIndex: 0,
			vector.MetaText:       "Refunds are accepted within 30 days of purchase.",
		},
	}
}

func TestChatQueryReturnsAnswerWithSources(t *testing.T) {
	ce := newChatEnv(t, []vector.Match{refundMatch(uuid.New())})
	access, _ := ce.login()

	rec := ce.do(http.MethodPost, "/v1/chat/query", map[string]any{"query": "refund policy?"}, ce.signed(access))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := envelopeData(t, rec)
	require.NotEmpty(t, data["conversation_id"])
	message := data["message"].(map[string]any)
	require.Equal(t, "assistant", message["role"])
	require.Contains(t, message["content"], "30 days")
	require.Len(t, data["sources"], 1)
}

func TestChatQueryRequiresBearer(t *testing.T) {
	ce := newChatEnv(t, nil)

	rec := ce.do(http.MethodPost, "/v1/chat/query", map[string]any{"query": "anything"}, ce.signed(""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "MISSING_AUTH_HEADER", errorCode(t, rec))
}

func TestChatQueryStreamEmitsSSE(t *testing.T) {
	ce := newChatEnv(t, []vector.Match{refundMatch(uuid.New())})
	access, _ := ce.login()

	rec := ce.do(http.MethodPost, "/v1/chat/query", map[string]any{
		"query":  "refund policy?",
		"stream": true,
	}, ce.signed(access))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "event: token")
	require.Contains(t, body, `"token":"The refund "`)
	require.Contains(t, body, "event: done")
	require.Contains(t, body, `"conversation_id"`)
}

func TestChatConversationHistory(t *testing.T) {
	ce := newChatEnv(t, []vector.Match{refundMatch(uuid.New())})
	access, _ := ce.login()

	rec := ce.do(http.MethodPost, "/v1/chat/query", map[string]any{"query": "refund policy?"}, ce.signed(access))
	require.Equal(t, http.StatusOK, rec.Code)
	convID := envelopeData(t, rec)["conversation_id"].(string)

	rec = ce.do(http.MethodGet, "/v1/chat/conversations", nil, ce.signed(access))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, envelopeData(t, rec)["conversations"], 1)

	rec = ce.do(http.MethodGet, "/v1/chat/conversations/"+convID+"/messages", nil, ce.signed(access))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := envelopeData(t, rec)
	messages := data["messages"].([]any)
	require.Len(t, messages, 2)
	require.Equal(t, "user", messages[0].(map[string]any)["role"])
	require.Equal(t, "assistant", messages[1].(map[string]any)["role"])

	rec = ce.do(http.MethodDelete, "/v1/chat/conversations/"+convID, nil, ce.signed(access))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ce.do(http.MethodGet, "/v1/chat/conversations/"+convID+"/messages", nil, ce.signed(access))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "CONVERSATION_NOT_FOUND", errorCode(t, rec))
}

func TestChatQueryValidatesConversationID(t *testing.T) {
	ce := newChatEnv(t, nil)
	access, _ := ce.login()

	rec := ce.do(http.MethodPost, "/v1/chat/query", map[string]any{
		"query":           "anything",
		"conversation_id": "not-a-uuid",
	}, ce.signed(access))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

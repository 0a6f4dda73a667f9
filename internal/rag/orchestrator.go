// Package rag implements the retrieval-augmented chat orchestrator.
//
// Purpose:
//   One query flows through: conversation resolution, user message persist,
//   query embedding, tenant-scoped vector retrieval, grounded prompt
//   composition, answer generation, assistant message persist with source
//   attributions.
//
// Dependencies:
//   - internal/llm: query embedding and answer generation (Ollama)
//   - internal/vector: tenant namespace retrieval (Pinecone-compatible)
//
// Key Responsibilities:
//   - Retrieval with a score floor so weak matches never reach the prompt
//   - Deterministic context ordering: score descending, ties broken by
//     vector ID so identical scores always produce the same prompt
//   - The no-context path answers honestly instead of hallucinating
//
// Error Handling:
//   - Generation failures surface as GENERATION_FAILED after the user
//     message is already persisted; the conversation stays consistent.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/llm"
	"github.com/faqforge/faqforge/internal/metrics"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/vector"
)

const (
	// maxQueryLen bounds user queries.
	maxQueryLen = 2000
	// titleLen is how much of the first query becomes the conversation title.
	titleLen = 80
	// excerptLen bounds the excerpt stored per source attribution.
	excerptLen = 200
	// historyTurns bounds how many prior messages go into the prompt.
	historyTurns = 10

	// noContextAnswer is returned verbatim when retrieval finds nothing above
	// the score floor.
	noContextAnswer = "I could not find anything in your organization's documents that answers this question."
)

// Store is the slice of the database layer the orchestrator needs.
// *postgres.Store satisfies it.
type Store interface {
	CreateConversation(ctx context.Context, orgID, userID uuid.UUID, title string) (postgres.Conversation, error)
	GetConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) (postgres.Conversation, error)
	ListConversations(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]postgres.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, sources []postgres.SourceRef) (postgres.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]postgres.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]postgres.Message, error)
	DeleteConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) error
}

// Config carries the orchestrator's retrieval tunables.
type Config struct {
	TopK     int
	MinScore float64
}

// Orchestrator answers chat queries against a tenant's documents.
type Orchestrator struct {
	store     Store
	embedder  llm.Embedder
	index     vector.Index
	generator llm.Generator
	cfg       Config
	logger    zerolog.Logger
}

// New creates the orchestrator.
func New(store Store, embedder llm.Embedder, index vector.Index, generator llm.Generator, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.3
	}
	return &Orchestrator{
		store:     store,
		embedder:  embedder,
		index:     index,
		generator: generator,
		cfg:       cfg,
		logger:    logger.With().Str("component", "rag").Logger(),
	}
}

// QueryInput is one chat turn. ConversationID nil starts a new conversation.
type QueryInput struct {
	OrgID          uuid.UUID
	UserID         uuid.UUID
	ConversationID *uuid.UUID
	Query          string
}

// Answer is the orchestrator's response to one query.
type Answer struct {
	ConversationID uuid.UUID
	Message        postgres.Message
	Sources        []postgres.SourceRef
}

// Query runs one full chat turn and returns the persisted assistant message.
func (o *Orchestrator) Query(ctx context.Context, in QueryInput) (Answer, error) {
	conv, history, sources, contexts, err := o.prepare(ctx, &in)
	if err != nil {
		return Answer{}, err
	}

	answerText := noContextAnswer
	if len(sources) > 0 {
		prompt := composePrompt(in.Query, history, sources, contexts)
		answerText, err = o.generator.Generate(ctx, prompt)
		if err != nil {
			metrics.ChatQueriesTotal.WithLabelValues("failed").Inc()
			o.logger.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("generation failed")
			return Answer{}, apierr.ErrGenerationFailed
		}
	}

	msg, err := o.persistAnswer(ctx, conv.ID, answerText, sources)
	if err != nil {
		return Answer{}, err
	}
	return Answer{ConversationID: conv.ID, Message: msg, Sources: sources}, nil
}

// QueryStream runs one chat turn, streaming answer tokens to onToken before
// persisting the full assistant message. When retrieval finds nothing, the
// fixed no-context answer is streamed as a single token.
func (o *Orchestrator) QueryStream(ctx context.Context, in QueryInput, onToken func(token string) error) (Answer, error) {
	conv, history, sources, contexts, err := o.prepare(ctx, &in)
	if err != nil {
		return Answer{}, err
	}

	var answer strings.Builder
	if len(sources) == 0 {
		answer.WriteString(noContextAnswer)
		if err := onToken(noContextAnswer); err != nil {
			return Answer{}, err
		}
	} else {
		prompt := composePrompt(in.Query, history, sources, contexts)
		err = o.generator.GenerateStream(ctx, prompt, func(token string) error {
			answer.WriteString(token)
			return onToken(token)
		})
		if err != nil {
			metrics.ChatQueriesTotal.WithLabelValues("failed").Inc()
			o.logger.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("generation stream failed")
			return Answer{}, apierr.ErrGenerationFailed
		}
	}

	msg, err := o.persistAnswer(ctx, conv.ID, answer.String(), sources)
	if err != nil {
		return Answer{}, err
	}
	return Answer{ConversationID: conv.ID, Message: msg, Sources: sources}, nil
}

// prepare validates the query, resolves the conversation, loads the recent
// turns, persists the user message and runs retrieval.
func (o *Orchestrator) prepare(ctx context.Context, in *QueryInput) (postgres.Conversation, []postgres.Message, []postgres.SourceRef, []string, error) {
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return postgres.Conversation{}, nil, nil, nil, apierr.ErrValidation.WithDetails(map[string]any{"query": "required"})
	}
	if len(in.Query) > maxQueryLen {
		return postgres.Conversation{}, nil, nil, nil, apierr.ErrQueryTooLong.WithDetails(map[string]any{
			"query_length": len(in.Query),
			"max_length":   maxQueryLen,
		})
	}

	conv, err := o.resolveConversation(ctx, *in)
	if err != nil {
		return postgres.Conversation{}, nil, nil, nil, err
	}

	// History is captured before the current query is appended so the prompt
	// never repeats the question as a prior turn.
	var history []postgres.Message
	if in.ConversationID != nil {
		history, err = o.store.RecentMessages(ctx, conv.ID, historyTurns)
		if err != nil {
			return postgres.Conversation{}, nil, nil, nil, fmt.Errorf("load recent messages: %w", err)
		}
	}

	if _, err := o.store.AppendMessage(ctx, conv.ID, "user", in.Query, nil); err != nil {
		return postgres.Conversation{}, nil, nil, nil, fmt.Errorf("persist user message: %w", err)
	}

	sources, contexts, err := o.retrieve(ctx, in.OrgID, in.Query)
	if err != nil {
		return postgres.Conversation{}, nil, nil, nil, err
	}
	return conv, history, sources, contexts, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, in QueryInput) (postgres.Conversation, error) {
	if in.ConversationID != nil {
		conv, err := o.store.GetConversation(ctx, in.OrgID, in.UserID, *in.ConversationID)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				return postgres.Conversation{}, apierr.ErrConversationNotFound
			}
			return postgres.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}

	title := in.Query
	if len(title) > titleLen {
		title = title[:titleLen]
	}
	conv, err := o.store.CreateConversation(ctx, in.OrgID, in.UserID, title)
	if err != nil {
		return postgres.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// retrieve embeds the query and pulls the tenant's best matches above the
// score floor, ordered score descending with vector ID as the tie-break.
// Returns the source attributions plus the full chunk texts for the prompt.
func (o *Orchestrator) retrieve(ctx context.Context, orgID uuid.UUID, query string) ([]postgres.SourceRef, []string, error) {
	queryVec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		o.logger.Error().Err(err).Msg("query embedding failed")
		return nil, nil, apierr.ErrEmbeddingFailed
	}

	started := time.Now()
	matches, err := o.index.Query(ctx, vector.Namespace(orgID), queryVec, o.cfg.TopK)
	if err != nil {
		o.logger.Error().Err(err).Msg("vector query failed")
		return nil, nil, apierr.ErrVectorUnreachable
	}
	metrics.RetrievalLatencySeconds.Observe(time.Since(started).Seconds())

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= o.cfg.MinScore {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].ID < kept[j].ID
	})

	sources := make([]postgres.SourceRef, 0, len(kept))
	contexts := make([]string, 0, len(kept))
	for _, m := range kept {
		sources = append(sources, sourceFromMatch(m))
		text, _ := m.Metadata[vector.MetaText].(string)
		contexts = append(contexts, text)
	}
	if len(sources) == 0 {
		metrics.ChatQueriesTotal.WithLabelValues("empty_sources").Inc()
	}
	return sources, contexts, nil
}

func (o *Orchestrator) persistAnswer(ctx context.Context, conversationID uuid.UUID, answer string, sources []postgres.SourceRef) (postgres.Message, error) {
	msg, err := o.store.AppendMessage(ctx, conversationID, "assistant", answer, sources)
	if err != nil {
		return postgres.Message{}, fmt.Errorf("persist assistant message: %w", err)
	}
	metrics.ChatQueriesTotal.WithLabelValues("answered").Inc()
	return msg, nil
}

// History returns a conversation's messages, oldest first.
func (o *Orchestrator) History(ctx context.Context, orgID, userID, conversationID uuid.UUID) (postgres.Conversation, []postgres.Message, error) {
	conv, err := o.store.GetConversation(ctx, orgID, userID, conversationID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return postgres.Conversation{}, nil, apierr.ErrConversationNotFound
		}
		return postgres.Conversation{}, nil, fmt.Errorf("load conversation: %w", err)
	}
	messages, err := o.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return postgres.Conversation{}, nil, fmt.Errorf("list messages: %w", err)
	}
	return conv, messages, nil
}

// ListConversations returns the user's conversations.
func (o *Orchestrator) ListConversations(ctx context.Context, orgID, userID uuid.UUID, limit, offset int) ([]postgres.Conversation, error) {
	return o.store.ListConversations(ctx, orgID, userID, limit, offset)
}

// DeleteConversation removes a conversation and its messages.
func (o *Orchestrator) DeleteConversation(ctx context.Context, orgID, userID, conversationID uuid.UUID) error {
	err := o.store.DeleteConversation(ctx, orgID, userID, conversationID)
	if errors.Is(err, postgres.ErrNotFound) {
		return apierr.ErrConversationNotFound
	}
	return err
}

// sourceFromMatch converts a vector match into a source attribution using
// the metadata written at ingestion time.
func sourceFromMatch(m vector.Match) postgres.SourceRef {
	ref := postgres.SourceRef{Score: m.Score}
	if raw, ok := m.Metadata[vector.MetaDocumentID].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			ref.DocumentID = id
		}
	}
	if filename, ok := m.Metadata[vector.MetaFilename].(string); ok {
		ref.Filename = filename
	}
	if text, ok := m.Metadata[vector.MetaText].(string); ok {
		if len(text) > excerptLen {
			text = text[:excerptLen]
		}
		ref.Excerpt = text
	}
	return ref
}

// composePrompt builds the grounded prompt: numbered context blocks in
// retrieval order, the recent conversation turns, then the question, then
// instructions keeping the model on the provided context.
func composePrompt(query string, history []postgres.Message, sources []postgres.SourceRef, contexts []string) string {
	var sb strings.Builder
	sb.WriteString("You are a support assistant answering questions using only the provided context.\n\n")
	sb.WriteString("Context:\n")
	for i, src := range sources {
		fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, src.Filename, contexts[i])
	}
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer using only the context above. If the context does not contain the answer, say so. Cite sources by their number.")
	return sb.String()
}

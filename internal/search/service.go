package search

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexConversation indexes a conversation (fire-and-forget to Meilisearch).
func (s *Service) IndexConversation(c ConversationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexConversation(c); err != nil {
			log.Warn().Err(err).Str("conversation_id", c.ID).Msg("search: index conversation")
		}
	}()
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(m MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(m); err != nil {
			log.Warn().Err(err).Str("message_id", m.ID).Msg("search: index message")
		}
	}()
}

// DeleteConversation removes a conversation from the search index (fire-and-forget).
func (s *Service) DeleteConversation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteConversation(id); err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("search: delete conversation")
		}
	}()
}

// DeleteMessage removes a message from the search index (fire-and-forget).
func (s *Service) DeleteMessage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			log.Warn().Err(err).Str("message_id", id).Msg("search: delete message")
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	conversations, messages, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.meili.IndexConversations(conversations); err != nil {
		log.Warn().Err(err).Msg("search: reindex conversations")
	}
	if err := s.meili.IndexMessages(messages); err != nil {
		log.Warn().Err(err).Msg("search: reindex messages")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const (
	idxConversations = "reviewdeck_conversations"
	idxMessages      = "reviewdeck_messages"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The caller
// can proceed even when the initial connection fails; the health loop keeps
// retrying in the background.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxConversations,
			primaryKey: "id",
			filterable: []string{"workspaceId", "isResolved"},
			searchable: []string{"filePath", "codeLine", "resolutionSummary"},
		},
		{
			uid:        idxMessages,
			primaryKey: "id",
			filterable: []string{"workspaceId", "conversationId"},
			searchable: []string{"content", "filePath"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Debug().Err(err).Str("index", idx.uid).Msg("search: create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Warn().Err(err).Str("index", idx.uid).Msg("search: update filterable attrs")
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Warn().Err(err).Str("index", idx.uid).Msg("search: update searchable attrs")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxConversations, ResultConversation},
		{idxMessages, ResultMessage},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if q.FilterWorkspaceID != "" {
			sr.Filter = []string{fmt.Sprintf("workspaceId = %q", q.FilterWorkspaceID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxConversations:
		return ResultConversation
	case idxMessages:
		return ResultMessage
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.WorkspaceID = decodeString(hit, "workspaceId")
	r.FilePath = decodeString(hit, "filePath")

	switch rtyp {
	case ResultConversation:
		r.ConversationID = r.ID
		r.Snippet = firstNonBlank(
			decodeFormattedString(hit, "codeLine"), decodeString(hit, "codeLine"),
			decodeFormattedString(hit, "resolutionSummary"), decodeString(hit, "resolutionSummary"),
		)
	case ResultMessage:
		r.ConversationID = decodeString(hit, "conversationId")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexConversation adds or updates a conversation in the search index.
func (m *Meili) IndexConversation(c ConversationRecord) error {
	_, err := m.client.Index(idxConversations).AddDocuments([]ConversationRecord{c}, nil)
	return err
}

// IndexMessage adds or updates a message in the search index.
func (m *Meili) IndexMessage(msg MessageRecord) error {
	_, err := m.client.Index(idxMessages).AddDocuments([]MessageRecord{msg}, nil)
	return err
}

// DeleteConversation removes a conversation from the search index.
func (m *Meili) DeleteConversation(id string) error {
	_, err := m.client.Index(idxConversations).DeleteDocument(id, nil)
	return err
}

// DeleteMessage removes a message from the search index.
func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}

// IndexConversations bulk-indexes conversations.
func (m *Meili) IndexConversations(conversations []ConversationRecord) error {
	if len(conversations) == 0 {
		return nil
	}
	_, err := m.client.Index(idxConversations).AddDocuments(conversations, nil)
	return err
}

// IndexMessages bulk-indexes messages.
func (m *Meili) IndexMessages(messages []MessageRecord) error {
	if len(messages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(messages, nil)
	return err
}

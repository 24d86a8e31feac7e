package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across conversations and messages using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultConversation {
		convWhere := "c.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			convWhere += fmt.Sprintf(" AND c.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'conversation'::text AS type, c.id::text, c.id::text AS conversation_id,
				c.workspace_id::text, c.file_path,
				ts_headline('english', coalesce(c.code_line, '') || ' ' || coalesce(c.resolution_summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(c.fts, %s) AS rank
			FROM review_conversations c
			WHERE %s`, tsQuery, tsQuery, convWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultMessage {
		msgWhere := "m.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			msgWhere += fmt.Sprintf(" AND c.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id::text, m.conversation_id::text,
				c.workspace_id::text, c.file_path,
				ts_headline('english', coalesce(m.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ts_rank(m.fts, %s) AS rank
			FROM review_conversation_messages m
			JOIN review_conversations c ON c.id = m.conversation_id
			WHERE %s`, tsQuery, tsQuery, msgWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, conversation_id, workspace_id, file_path, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.ConversationID, &r.WorkspaceID, &r.FilePath, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ConversationRecord, []MessageRecord, error) {
	convRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, workspace_id::text, file_path, coalesce(code_line, ''), coalesce(resolution_summary, ''), is_resolved
		FROM review_conversations
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversations: %w", err)
	}
	defer convRows.Close()

	conversations := make([]ConversationRecord, 0)
	for convRows.Next() {
		var c ConversationRecord
		if err := convRows.Scan(&c.ID, &c.WorkspaceID, &c.FilePath, &c.CodeLine, &c.ResolutionSummary, &c.IsResolved); err != nil {
			return nil, nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := convRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate conversations: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT m.id::text, m.conversation_id::text, c.workspace_id::text, c.file_path, m.content
		FROM review_conversation_messages m
		JOIN review_conversations c ON c.id = m.conversation_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.ConversationID, &m.WorkspaceID, &m.FilePath, &m.Content); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	return conversations, messages, nil
}

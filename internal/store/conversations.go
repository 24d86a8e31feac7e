package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const conversationColumns = `
	id, workspace_id, file_path, line_number, side, code_line,
	is_resolved, resolved_at, resolved_by_user_id, resolution_summary,
	created_at, updated_at
`

func scanConversation(row interface{ Scan(...any) error }) (ReviewConversation, error) {
	var c ReviewConversation
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.FilePath, &c.LineNumber, &c.Side, &c.CodeLine,
		&c.IsResolved, &c.ResolvedAt, &c.ResolvedByUserID, &c.ResolutionSummary,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// CreateConversation inserts the conversation and its first message in one
// transaction; a conversation never exists without at least one message.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv ReviewConversation, first ConversationMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create conversation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_conversations (id, workspace_id, file_path, line_number, side, code_line)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, conv.ID, conv.WorkspaceID, conv.FilePath, conv.LineNumber, conv.Side, conv.CodeLine); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_conversation_messages (id, conversation_id, user_id, content)
		VALUES ($1, $2, $3, $4)
	`, first.ID, conv.ID, first.UserID, first.Content); err != nil {
		return fmt.Errorf("insert first message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create conversation tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (ReviewConversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM review_conversations WHERE id=$1`, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewConversation{}, ErrConversationNotFound
	}
	if err != nil {
		return ReviewConversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) listConversations(ctx context.Context, query string, args ...any) ([]ReviewConversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]ReviewConversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, workspaceID string) ([]ReviewConversation, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM review_conversations WHERE workspace_id=$1 ORDER BY created_at ASC`,
		workspaceID)
}

func (s *PostgresStore) ListUnresolvedConversations(ctx context.Context, workspaceID string) ([]ReviewConversation, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM review_conversations WHERE workspace_id=$1 AND is_resolved=FALSE ORDER BY created_at ASC`,
		workspaceID)
}

func (s *PostgresStore) ListConversationsByFilePath(ctx context.Context, workspaceID, filePath string) ([]ReviewConversation, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM review_conversations WHERE workspace_id=$1 AND file_path=$2 ORDER BY line_number ASC`,
		workspaceID, filePath)
}

// ResolveConversation marks a conversation resolved only if it is currently
// open. The guard lives in the statement itself so two concurrent resolvers
// cannot both win; the loser sees affected == 0.
func (s *PostgresStore) ResolveConversation(ctx context.Context, conversationID, userID string, summary *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE review_conversations
		SET is_resolved=TRUE, resolved_at=NOW(), resolved_by_user_id=$2, resolution_summary=$3, updated_at=NOW()
		WHERE id=$1 AND is_resolved=FALSE
	`, conversationID, userID, summary)
	if err != nil {
		return false, fmt.Errorf("resolve conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve conversation rows: %w", err)
	}
	return affected > 0, nil
}

// UnresolveConversation clears resolution state unconditionally; reopening an
// already-open conversation is a no-op that still reports success.
func (s *PostgresStore) UnresolveConversation(ctx context.Context, conversationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE review_conversations
		SET is_resolved=FALSE, resolved_at=NULL, resolved_by_user_id=NULL, resolution_summary=NULL, updated_at=NOW()
		WHERE id=$1
	`, conversationID)
	if err != nil {
		return false, fmt.Errorf("unresolve conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unresolve conversation rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteConversation removes the conversation; messages go with it via the
// cascading foreign key.
func (s *PostgresStore) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM review_conversations WHERE id=$1`, conversationID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete conversation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg ConversationMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_conversation_messages (id, conversation_id, user_id, content)
		VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.ConversationID, msg.UserID, msg.Content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (ConversationMessage, error) {
	var msg ConversationMessage
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, content, created_at, updated_at
		FROM review_conversation_messages WHERE id=$1
	`, messageID).Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Content, &msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return ConversationMessage{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM review_conversation_messages WHERE id=$1`, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_conversation_messages WHERE conversation_id=$1`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// LoadConversationWithMessages hydrates one conversation: messages in
// creation order with author projections, plus the resolver projection when
// the conversation is resolved.
func (s *PostgresStore) LoadConversationWithMessages(ctx context.Context, conversationID string) (ConversationWithMessages, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationWithMessages{}, err
	}
	return s.hydrateConversation(ctx, conv)
}

// LoadConversationsWithMessages hydrates each conversation in the given
// order.
func (s *PostgresStore) LoadConversationsWithMessages(ctx context.Context, conversations []ReviewConversation) ([]ConversationWithMessages, error) {
	hydrated := make([]ConversationWithMessages, 0, len(conversations))
	for _, conv := range conversations {
		full, err := s.hydrateConversation(ctx, conv)
		if err != nil {
			return nil, err
		}
		hydrated = append(hydrated, full)
	}
	return hydrated, nil
}

func (s *PostgresStore) hydrateConversation(ctx context.Context, conv ReviewConversation) (ConversationWithMessages, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.user_id, m.content, m.created_at, m.updated_at,
			u.id, u.username, u.avatar_url
		FROM review_conversation_messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC
	`, conv.ID)
	if err != nil {
		return ConversationWithMessages{}, fmt.Errorf("load conversation messages: %w", err)
	}
	defer rows.Close()

	messages := make([]MessageWithAuthor, 0)
	for rows.Next() {
		var msg MessageWithAuthor
		var authorID, authorName, authorAvatar *string
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Content, &msg.CreatedAt, &msg.UpdatedAt,
			&authorID, &authorName, &authorAvatar,
		); err != nil {
			return ConversationWithMessages{}, fmt.Errorf("scan conversation message: %w", err)
		}
		if authorID != nil && authorName != nil {
			msg.Author = &ConversationUser{ID: *authorID, Username: *authorName, AvatarURL: authorAvatar}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return ConversationWithMessages{}, fmt.Errorf("iterate conversation messages: %w", err)
	}

	full := ConversationWithMessages{ReviewConversation: conv, Messages: messages}
	if conv.ResolvedByUserID != nil {
		var resolver ConversationUser
		err := s.db.QueryRowContext(ctx,
			`SELECT id, username, avatar_url FROM users WHERE id=$1`, *conv.ResolvedByUserID).
			Scan(&resolver.ID, &resolver.Username, &resolver.AvatarURL)
		if err == nil {
			full.ResolvedBy = &resolver
		} else if !errors.Is(err, sql.ErrNoRows) {
			return ConversationWithMessages{}, fmt.Errorf("load resolver: %w", err)
		}
	}
	return full, nil
}

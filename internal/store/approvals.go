package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// CreateApproval records one user's approval of a task. The (task, user)
// pair is unique at the schema level; a second approval by the same user
// surfaces as ErrDuplicateApproval.
func (s *PostgresStore) CreateApproval(ctx context.Context, approval TaskApproval) (TaskApproval, error) {
	const query = `
		INSERT INTO task_approvals (id, task_id, user_id)
		VALUES ($1, $2, $3)
		RETURNING id, task_id, user_id, created_at
	`
	var created TaskApproval
	err := s.db.QueryRowContext(ctx, query, approval.ID, approval.TaskID, approval.UserID).
		Scan(&created.ID, &created.TaskID, &created.UserID, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return TaskApproval{}, ErrDuplicateApproval
		}
		return TaskApproval{}, fmt.Errorf("insert approval: %w", err)
	}
	return created, nil
}

// DeleteApproval removes a user's approval and reports how many rows went
// away (0 when there was nothing to remove).
func (s *PostgresStore) DeleteApproval(ctx context.Context, taskID, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task_approvals WHERE task_id=$1 AND user_id=$2`, taskID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete approval rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) CountApprovals(ctx context.Context, taskID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_approvals WHERE task_id=$1`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count approvals: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ApprovalExists(ctx context.Context, taskID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM task_approvals WHERE task_id=$1 AND user_id=$2)`, taskID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	return exists, nil
}

// ListApprovals returns a task's approvals with approver projections,
// oldest first.
func (s *PostgresStore) ListApprovals(ctx context.Context, taskID string) ([]ApprovalWithUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.task_id, a.user_id, a.created_at, u.id, u.username, u.avatar_url
		FROM task_approvals a
		JOIN users u ON u.id = a.user_id
		WHERE a.task_id = $1
		ORDER BY a.created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]ApprovalWithUser, 0)
	for rows.Next() {
		var a ApprovalWithUser
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &a.CreatedAt,
			&a.User.ID, &a.User.Username, &a.User.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return approvals, nil
}

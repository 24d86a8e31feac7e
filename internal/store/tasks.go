package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	const query = `
		SELECT id, name, git_repo_path, min_approvals_required, created_at, updated_at
		FROM projects WHERE id=$1
	`
	var p Project
	err := s.db.QueryRowContext(ctx, query, projectID).
		Scan(&p.ID, &p.Name, &p.GitRepoPath, &p.MinApprovalsRequired, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) (Project, error) {
	const query = `
		INSERT INTO projects (id, name, git_repo_path, min_approvals_required)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, git_repo_path, min_approvals_required, created_at, updated_at
	`
	var created Project
	err := s.db.QueryRowContext(ctx, query, p.ID, p.Name, p.GitRepoPath, p.MinApprovalsRequired).
		Scan(&created.ID, &created.Name, &created.GitRepoPath, &created.MinApprovalsRequired, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, git_repo_path, min_approvals_required, created_at, updated_at
		FROM projects ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.GitRepoPath, &p.MinApprovalsRequired, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectMinApprovals sets the approval quorum for a project and
// returns the updated row; false when the project does not exist.
func (s *PostgresStore) UpdateProjectMinApprovals(ctx context.Context, projectID string, minApprovals int) (Project, bool, error) {
	const query = `
		UPDATE projects SET min_approvals_required=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, git_repo_path, min_approvals_required, created_at, updated_at
	`
	var p Project
	err := s.db.QueryRowContext(ctx, query, projectID, minApprovals).
		Scan(&p.ID, &p.Name, &p.GitRepoPath, &p.MinApprovalsRequired, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, fmt.Errorf("update project min approvals: %w", err)
	}
	return p, true, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	const query = `SELECT id, project_id, title, description, status, created_at, updated_at FROM tasks WHERE id=$1`
	var t Task
	err := s.db.QueryRowContext(ctx, query, taskID).
		Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// CreateTask inserts a task and its initial workspace in one transaction.
func (s *PostgresStore) CreateTask(ctx context.Context, task Task, workspace Workspace) (Task, Workspace, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, Workspace{}, fmt.Errorf("begin create task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var created Task
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, project_id, title, description, status, created_at, updated_at
	`, task.ID, task.ProjectID, task.Title, task.Description, task.Status).
		Scan(&created.ID, &created.ProjectID, &created.Title, &created.Description, &created.Status, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return Task{}, Workspace{}, fmt.Errorf("insert task: %w", err)
	}

	var ws Workspace
	err = tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, task_id, branch)
		VALUES ($1, $2, $3)
		RETURNING id, task_id, branch, created_at, updated_at
	`, workspace.ID, created.ID, workspace.Branch).
		Scan(&ws.ID, &ws.TaskID, &ws.Branch, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return Task{}, Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Task{}, Workspace{}, fmt.Errorf("commit create task tx: %w", err)
	}
	return created, ws, nil
}

// DeleteTask removes a task; approvals and workspaces (and through them
// conversations) follow via cascading foreign keys.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) (Task, error) {
	const query = `
		UPDATE tasks SET status=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, project_id, title, description, status, created_at, updated_at
	`
	var t Task
	err := s.db.QueryRowContext(ctx, query, taskID, status).
		Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

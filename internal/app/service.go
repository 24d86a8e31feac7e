package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewdeck/api/internal/auth"
	"reviewdeck/api/internal/broadcast"
	"reviewdeck/api/internal/config"
	"reviewdeck/api/internal/githubauth"
	"reviewdeck/api/internal/search"
	"reviewdeck/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	AvatarURL    string
	JTI          string
	ExpiresAt    time.Time
}

type CreateConversationInput struct {
	FilePath       string  `json:"file_path"`
	LineNumber     int64   `json:"line_number"`
	Side           string  `json:"side"`
	CodeLine       *string `json:"code_line,omitempty"`
	InitialMessage string  `json:"initial_message"`
}

type AddMessageInput struct {
	Content string `json:"content"`
}

type ResolveConversationInput struct {
	ResolutionSummary *string `json:"resolution_summary,omitempty"`
}

type CreateTaskInput struct {
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Branch      string  `json:"branch"`
}

type CreateProjectInput struct {
	Name                 string `json:"name"`
	GitRepoPath          string `json:"git_repo_path"`
	MinApprovalsRequired *int   `json:"min_approvals_required,omitempty"`
}

// TaskWithWorkspace is the create-task response payload.
type TaskWithWorkspace struct {
	Task      store.Task      `json:"task"`
	Workspace store.Workspace `json:"workspace"`
}

// ApprovalSummary reports where a task stands against its quorum.
type ApprovalSummary struct {
	Approvals            []store.ApprovalWithUser `json:"approvals"`
	Count                int                      `json:"count"`
	MinApprovalsRequired int                      `json:"min_approvals_required"`
	CanComplete          bool                     `json:"can_complete"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	UpsertGitHubUser(ctx context.Context, githubID int64, username string, email, avatarURL *string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)

	CreateConversation(ctx context.Context, conv store.ReviewConversation, first store.ConversationMessage) error
	GetConversation(ctx context.Context, conversationID string) (store.ReviewConversation, error)
	ListConversations(ctx context.Context, workspaceID string) ([]store.ReviewConversation, error)
	ListUnresolvedConversations(ctx context.Context, workspaceID string) ([]store.ReviewConversation, error)
	ListConversationsByFilePath(ctx context.Context, workspaceID, filePath string) ([]store.ReviewConversation, error)
	ResolveConversation(ctx context.Context, conversationID, userID string, summary *string) (bool, error)
	UnresolveConversation(ctx context.Context, conversationID string) (bool, error)
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)
	InsertMessage(ctx context.Context, msg store.ConversationMessage) error
	GetMessage(ctx context.Context, messageID string) (store.ConversationMessage, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	LoadConversationWithMessages(ctx context.Context, conversationID string) (store.ConversationWithMessages, error)
	LoadConversationsWithMessages(ctx context.Context, conversations []store.ReviewConversation) ([]store.ConversationWithMessages, error)

	CreateApproval(ctx context.Context, approval store.TaskApproval) (store.TaskApproval, error)
	DeleteApproval(ctx context.Context, taskID, userID string) (int64, error)
	CountApprovals(ctx context.Context, taskID string) (int, error)
	ApprovalExists(ctx context.Context, taskID, userID string) (bool, error)
	ListApprovals(ctx context.Context, taskID string) ([]store.ApprovalWithUser, error)

	GetProject(ctx context.Context, projectID string) (store.Project, error)
	CreateProject(ctx context.Context, p store.Project) (store.Project, error)
	UpdateProjectMinApprovals(ctx context.Context, projectID string, minApprovals int) (store.Project, bool, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	CreateTask(ctx context.Context, task store.Task, workspace store.Workspace) (store.Task, store.Workspace, error)
	DeleteTask(ctx context.Context, taskID string) (bool, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status store.TaskStatus) (store.Task, error)
}

// SessionStore holds refresh sessions. Both the Postgres store and the
// Redis store satisfy it; main picks one at startup.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type eventRecorder interface {
	Record(name string, userID *string, properties map[string]any)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  SessionStore
	github    *githubauth.Service
	search    *search.Service
	telemetry eventRecorder
	events    *broadcast.Broadcaster
}

func New(cfg config.Config, dataStore dataStore, sessions SessionStore, github *githubauth.Service, searchService *search.Service, recorder eventRecorder, events *broadcast.Broadcaster) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		github:    github,
		search:    searchService,
		telemetry: recorder,
		events:    events,
	}
}

// Bootstrap runs startup work that must not block serving: today that is
// rebuilding the search indexes from Postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Subscribe attaches a new consumer to a workspace's event stream.
func (s *Service) Subscribe(workspaceID string) *broadcast.Subscriber {
	return s.events.Subscribe(workspaceID)
}

// ---- Auth & sessions ----

// GitHubAuthURL returns the consent URL the client should redirect to.
func (s *Service) GitHubAuthURL() (string, error) {
	if s.github == nil || !s.github.Configured() {
		return "", domainError(503, "AUTH_UNAVAILABLE", "GitHub OAuth is not configured", nil)
	}
	return s.github.AuthorizationURL(randomToken(16)), nil
}

// GitHubCallback completes the OAuth flow: code for token, token for user,
// user upserted locally, session issued.
func (s *Service) GitHubCallback(ctx context.Context, code string) (Session, error) {
	if s.github == nil || !s.github.Configured() {
		return Session{}, domainError(503, "AUTH_UNAVAILABLE", "GitHub OAuth is not configured", nil)
	}
	if strings.TrimSpace(code) == "" {
		return Session{}, domainError(422, "VALIDATION_ERROR", "code is required", nil)
	}

	accessToken, err := s.github.ExchangeCode(ctx, code)
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "GitHub code exchange failed", nil)
	}
	ghUser, err := s.github.FetchUser(ctx, accessToken)
	if err != nil {
		return Session{}, fmt.Errorf("fetch github user: %w", err)
	}

	user, err := s.store.UpsertGitHubUser(ctx, ghUser.ID, ghUser.Login, ghUser.Email, ghUser.AvatarURL)
	if err != nil {
		return Session{}, err
	}
	s.record("user_signed_in", &user.ID, map[string]any{"github_id": ghUser.ID})
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := uuid.NewString()
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	avatar := ""
	if user.AvatarURL != nil {
		avatar = *user.AvatarURL
	}

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.Username,
		Avatar: avatar,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshToken := randomToken(32)
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		AvatarURL:    avatar,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	stub, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, stub.ID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Username:  claims.Name,
		AvatarURL: claims.Avatar,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// ---- Conversations ----

func (s *Service) ensureWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workspace{}, notFoundError()
	}
	if err != nil {
		return store.Workspace{}, fmt.Errorf("load workspace: %w", err)
	}
	return ws, nil
}

// workspaceConversation loads a conversation and enforces workspace scoping.
// A conversation that exists in another workspace is indistinguishable from
// one that does not exist.
func (s *Service) workspaceConversation(ctx context.Context, workspaceID, conversationID string) (store.ReviewConversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrConversationNotFound) {
		return store.ReviewConversation{}, notFoundError()
	}
	if err != nil {
		return store.ReviewConversation{}, err
	}
	if conv.WorkspaceID != workspaceID {
		return store.ReviewConversation{}, notFoundError()
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, workspaceID string) ([]store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	conversations, err := s.store.ListConversations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.store.LoadConversationsWithMessages(ctx, conversations)
}

func (s *Service) ListUnresolvedConversations(ctx context.Context, workspaceID string) ([]store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	conversations, err := s.store.ListUnresolvedConversations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.store.LoadConversationsWithMessages(ctx, conversations)
}

func (s *Service) ListConversationsByFilePath(ctx context.Context, workspaceID, filePath string) ([]store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	conversations, err := s.store.ListConversationsByFilePath(ctx, workspaceID, filePath)
	if err != nil {
		return nil, err
	}
	return s.store.LoadConversationsWithMessages(ctx, conversations)
}

func (s *Service) GetConversation(ctx context.Context, workspaceID, conversationID string) (store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	if _, err := s.workspaceConversation(ctx, workspaceID, conversationID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	return s.store.LoadConversationWithMessages(ctx, conversationID)
}

func (s *Service) CreateConversation(ctx context.Context, session Session, workspaceID string, input CreateConversationInput) (store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	if strings.TrimSpace(input.FilePath) == "" {
		return store.ConversationWithMessages{}, validationError("file_path must not be empty")
	}
	if input.LineNumber < 1 {
		return store.ConversationWithMessages{}, validationError("line_number must be at least 1")
	}
	if input.Side != "old" && input.Side != "new" {
		return store.ConversationWithMessages{}, validationError("side must be 'old' or 'new'")
	}
	if strings.TrimSpace(input.InitialMessage) == "" {
		return store.ConversationWithMessages{}, validationError("initial message must not be empty")
	}

	conv := store.ReviewConversation{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		FilePath:    input.FilePath,
		LineNumber:  input.LineNumber,
		Side:        input.Side,
		CodeLine:    input.CodeLine,
	}
	userID := session.UserID
	first := store.ConversationMessage{
		ID:      uuid.NewString(),
		UserID:  &userID,
		Content: input.InitialMessage,
	}
	if err := s.store.CreateConversation(ctx, conv, first); err != nil {
		return store.ConversationWithMessages{}, err
	}

	full, err := s.store.LoadConversationWithMessages(ctx, conv.ID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	s.publish(workspaceID, conversationEvent(EventConversationCreated, full))
	s.indexConversation(full)
	s.indexMessage(full, first.ID, input.InitialMessage)
	s.record("conversation_created", &userID, map[string]any{
		"workspace_id": workspaceID,
		"file_path":    input.FilePath,
	})
	return full, nil
}

func (s *Service) AddMessage(ctx context.Context, session Session, workspaceID, conversationID string, input AddMessageInput) (store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	conv, err := s.workspaceConversation(ctx, workspaceID, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	if conv.IsResolved {
		return store.ConversationWithMessages{}, alreadyResolvedError()
	}
	if strings.TrimSpace(input.Content) == "" {
		return store.ConversationWithMessages{}, validationError("message content must not be empty")
	}

	userID := session.UserID
	msg := store.ConversationMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         &userID,
		Content:        input.Content,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return store.ConversationWithMessages{}, err
	}

	full, err := s.store.LoadConversationWithMessages(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	s.publish(workspaceID, conversationEvent(EventMessageAdded, full))
	s.indexMessage(full, msg.ID, input.Content)
	s.record("conversation_message_added", &userID, map[string]any{
		"workspace_id":    workspaceID,
		"conversation_id": conversationID,
	})
	return full, nil
}

func (s *Service) ResolveConversation(ctx context.Context, session Session, workspaceID, conversationID string, input ResolveConversationInput) (store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	if _, err := s.workspaceConversation(ctx, workspaceID, conversationID); err != nil {
		return store.ConversationWithMessages{}, err
	}

	resolved, err := s.store.ResolveConversation(ctx, conversationID, session.UserID, input.ResolutionSummary)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	if !resolved {
		// Someone else resolved it first (or it vanished). Either way the
		// open conversation the caller targeted no longer exists.
		return store.ConversationWithMessages{}, notFoundError()
	}

	full, err := s.store.LoadConversationWithMessages(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	s.publish(workspaceID, conversationEvent(EventConversationResolved, full))
	s.indexConversation(full)
	userID := session.UserID
	s.record("conversation_resolved", &userID, map[string]any{
		"workspace_id":    workspaceID,
		"conversation_id": conversationID,
	})
	return full, nil
}

func (s *Service) UnresolveConversation(ctx context.Context, session Session, workspaceID, conversationID string) (store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	if _, err := s.workspaceConversation(ctx, workspaceID, conversationID); err != nil {
		return store.ConversationWithMessages{}, err
	}

	ok, err := s.store.UnresolveConversation(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	if !ok {
		return store.ConversationWithMessages{}, notFoundError()
	}

	full, err := s.store.LoadConversationWithMessages(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	s.publish(workspaceID, conversationEvent(EventConversationUnresolved, full))
	s.indexConversation(full)
	return full, nil
}

func (s *Service) DeleteConversation(ctx context.Context, session Session, workspaceID, conversationID string) error {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if _, err := s.workspaceConversation(ctx, workspaceID, conversationID); err != nil {
		return err
	}
	if _, err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.publish(workspaceID, deletionEvent(EventConversationDeleted, conversationID))
	if s.search != nil {
		s.search.DeleteConversation(conversationID)
	}
	userID := session.UserID
	s.record("conversation_deleted", &userID, map[string]any{
		"workspace_id":    workspaceID,
		"conversation_id": conversationID,
	})
	return nil
}

// DeleteMessage removes one message. Deleting the last message deletes the
// whole conversation; that path broadcasts conversation_auto_deleted and
// reports not_found to the caller, whose conversation is indeed gone.
func (s *Service) DeleteMessage(ctx context.Context, session Session, workspaceID, conversationID, messageID string) (store.ConversationWithMessages, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	conv, err := s.workspaceConversation(ctx, workspaceID, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	if conv.IsResolved {
		return store.ConversationWithMessages{}, alreadyResolvedError()
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrMessageNotFound) {
		return store.ConversationWithMessages{}, messageNotFoundError()
	}
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	if msg.ConversationID != conversationID {
		return store.ConversationWithMessages{}, messageNotFoundError()
	}

	if _, err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return store.ConversationWithMessages{}, err
	}
	if s.search != nil {
		s.search.DeleteMessage(messageID)
	}

	remaining, err := s.store.CountMessages(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	userID := session.UserID
	if remaining == 0 {
		if _, err := s.store.DeleteConversation(ctx, conversationID); err != nil {
			return store.ConversationWithMessages{}, err
		}
		s.publish(workspaceID, deletionEvent(EventConversationAutoDeleted, conversationID))
		if s.search != nil {
			s.search.DeleteConversation(conversationID)
		}
		s.record("conversation_auto_deleted", &userID, map[string]any{
			"workspace_id":    workspaceID,
			"conversation_id": conversationID,
		})
		return store.ConversationWithMessages{}, notFoundError()
	}

	full, err := s.store.LoadConversationWithMessages(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	s.publish(workspaceID, conversationEvent(EventMessageDeleted, full))
	s.record("conversation_message_deleted", &userID, map[string]any{
		"workspace_id":    workspaceID,
		"conversation_id": conversationID,
	})
	return full, nil
}

// SearchConversations queries the workspace's conversations and messages.
func (s *Service) SearchConversations(ctx context.Context, workspaceID, text string, limit, offset int) (search.Response, error) {
	if _, err := s.ensureWorkspace(ctx, workspaceID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:              text,
		FilterWorkspaceID: workspaceID,
		Limit:             limit,
		Offset:            offset,
	}), nil
}

// ---- Approvals & tasks ----

func (s *Service) taskByID(ctx context.Context, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFoundError()
	}
	if err != nil {
		return store.Task{}, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

func (s *Service) ApproveTask(ctx context.Context, session Session, taskID string) (store.TaskApproval, error) {
	task, err := s.taskByID(ctx, taskID)
	if err != nil {
		return store.TaskApproval{}, err
	}
	approval, err := s.store.CreateApproval(ctx, store.TaskApproval{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		UserID: session.UserID,
	})
	if errors.Is(err, store.ErrDuplicateApproval) {
		return store.TaskApproval{}, duplicateApprovalError()
	}
	if err != nil {
		return store.TaskApproval{}, err
	}
	userID := session.UserID
	s.record("task_approved", &userID, map[string]any{"task_id": task.ID})
	return approval, nil
}

// UnapproveTask withdraws the caller's approval and reports how many rows
// were removed; withdrawing a non-existent approval removes zero.
func (s *Service) UnapproveTask(ctx context.Context, session Session, taskID string) (int64, error) {
	task, err := s.taskByID(ctx, taskID)
	if err != nil {
		return 0, err
	}
	removed, err := s.store.DeleteApproval(ctx, task.ID, session.UserID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		userID := session.UserID
		s.record("task_unapproved", &userID, map[string]any{"task_id": task.ID})
	}
	return removed, nil
}

func (s *Service) TaskApprovals(ctx context.Context, taskID string) (ApprovalSummary, error) {
	task, err := s.taskByID(ctx, taskID)
	if err != nil {
		return ApprovalSummary{}, err
	}
	project, err := s.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return ApprovalSummary{}, fmt.Errorf("load project: %w", err)
	}
	approvals, err := s.store.ListApprovals(ctx, task.ID)
	if err != nil {
		return ApprovalSummary{}, err
	}
	count := len(approvals)
	return ApprovalSummary{
		Approvals:            approvals,
		Count:                count,
		MinApprovalsRequired: project.MinApprovalsRequired,
		CanComplete:          count >= project.MinApprovalsRequired,
	}, nil
}

// UpdateTaskStatus moves a task between states. Only the inreview -> done
// edge is gated: it requires the project's approval quorum, counted at
// transition time.
func (s *Service) UpdateTaskStatus(ctx context.Context, session Session, taskID string, status store.TaskStatus) (store.Task, error) {
	task, err := s.taskByID(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !store.ValidTaskStatus(status) {
		return store.Task{}, validationError(fmt.Sprintf("unknown task status %q", status))
	}

	if task.Status == store.TaskStatusInReview && status == store.TaskStatusDone {
		project, err := s.store.GetProject(ctx, task.ProjectID)
		if err != nil {
			return store.Task{}, fmt.Errorf("load project: %w", err)
		}
		count, err := s.store.CountApprovals(ctx, task.ID)
		if err != nil {
			return store.Task{}, err
		}
		if count < project.MinApprovalsRequired {
			return store.Task{}, validationError(fmt.Sprintf(
				"task requires %d approvals to complete, has %d",
				project.MinApprovalsRequired, count,
			))
		}
	}

	updated, err := s.store.UpdateTaskStatus(ctx, task.ID, status)
	if err != nil {
		return store.Task{}, err
	}
	userID := session.UserID
	s.record("task_status_changed", &userID, map[string]any{
		"task_id": task.ID,
		"from":    string(task.Status),
		"to":      string(status),
	})
	return updated, nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (TaskWithWorkspace, error) {
	if strings.TrimSpace(input.Title) == "" {
		return TaskWithWorkspace{}, validationError("title must not be empty")
	}
	if _, err := s.store.GetProject(ctx, input.ProjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskWithWorkspace{}, notFoundError()
		}
		return TaskWithWorkspace{}, fmt.Errorf("load project: %w", err)
	}

	branch := input.Branch
	if strings.TrimSpace(branch) == "" {
		branch = "main"
	}
	task, workspace, err := s.store.CreateTask(ctx,
		store.Task{
			ID:          uuid.NewString(),
			ProjectID:   input.ProjectID,
			Title:       input.Title,
			Description: input.Description,
			Status:      store.TaskStatusTodo,
		},
		store.Workspace{ID: uuid.NewString(), Branch: branch},
	)
	if err != nil {
		return TaskWithWorkspace{}, err
	}
	userID := session.UserID
	s.record("task_created", &userID, map[string]any{"task_id": task.ID, "project_id": task.ProjectID})
	return TaskWithWorkspace{Task: task, Workspace: workspace}, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	return s.taskByID(ctx, taskID)
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	deleted, err := s.store.DeleteTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFoundError()
	}
	userID := session.UserID
	s.record("task_deleted", &userID, map[string]any{"task_id": taskID})
	return nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (store.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Project{}, validationError("name must not be empty")
	}
	minApprovals := 1
	if input.MinApprovalsRequired != nil {
		if *input.MinApprovalsRequired < 0 {
			return store.Project{}, validationError("min_approvals_required must not be negative")
		}
		minApprovals = *input.MinApprovalsRequired
	}
	project, err := s.store.CreateProject(ctx, store.Project{
		ID:                   uuid.NewString(),
		Name:                 input.Name,
		GitRepoPath:          input.GitRepoPath,
		MinApprovalsRequired: minApprovals,
	})
	if err != nil {
		return store.Project{}, err
	}
	userID := session.UserID
	s.record("project_created", &userID, map[string]any{"project_id": project.ID})
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFoundError()
	}
	if err != nil {
		return store.Project{}, fmt.Errorf("load project: %w", err)
	}
	return project, nil
}

func (s *Service) SetProjectMinApprovals(ctx context.Context, session Session, projectID string, minApprovals int) (store.Project, error) {
	if minApprovals < 0 {
		return store.Project{}, validationError("min_approvals_required must not be negative")
	}
	project, found, err := s.store.UpdateProjectMinApprovals(ctx, projectID, minApprovals)
	if err != nil {
		return store.Project{}, err
	}
	if !found {
		return store.Project{}, notFoundError()
	}
	userID := session.UserID
	s.record("project_quorum_changed", &userID, map[string]any{
		"project_id":             projectID,
		"min_approvals_required": minApprovals,
	})
	return project, nil
}

// ---- Helpers ----

func (s *Service) record(name string, userID *string, properties map[string]any) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.Record(name, userID, properties)
}

func (s *Service) indexConversation(full store.ConversationWithMessages) {
	if s.search == nil {
		return
	}
	codeLine := ""
	if full.CodeLine != nil {
		codeLine = *full.CodeLine
	}
	summary := ""
	if full.ResolutionSummary != nil {
		summary = *full.ResolutionSummary
	}
	s.search.IndexConversation(search.ConversationRecord{
		ID:                full.ID,
		WorkspaceID:       full.WorkspaceID,
		FilePath:          full.FilePath,
		CodeLine:          codeLine,
		ResolutionSummary: summary,
		IsResolved:        full.IsResolved,
	})
}

func (s *Service) indexMessage(full store.ConversationWithMessages, messageID, content string) {
	if s.search == nil {
		return
	}
	s.search.IndexMessage(search.MessageRecord{
		ID:             messageID,
		ConversationID: full.ID,
		WorkspaceID:    full.WorkspaceID,
		FilePath:       full.FilePath,
		Content:        content,
	})
}

func randomToken(size int) string {
	buf := make([]byte, size)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"reviewdeck/api/internal/broadcast"
	"reviewdeck/api/internal/config"
	"reviewdeck/api/internal/store"
)

type fakeStore struct {
	getWorkspaceFn                  func(context.Context, string) (store.Workspace, error)
	createConversationFn            func(context.Context, store.ReviewConversation, store.ConversationMessage) error
	getConversationFn               func(context.Context, string) (store.ReviewConversation, error)
	listConversationsFn             func(context.Context, string) ([]store.ReviewConversation, error)
	listUnresolvedFn                func(context.Context, string) ([]store.ReviewConversation, error)
	listByFilePathFn                func(context.Context, string, string) ([]store.ReviewConversation, error)
	resolveConversationFn           func(context.Context, string, string, *string) (bool, error)
	unresolveConversationFn         func(context.Context, string) (bool, error)
	deleteConversationFn            func(context.Context, string) (bool, error)
	insertMessageFn                 func(context.Context, store.ConversationMessage) error
	getMessageFn                    func(context.Context, string) (store.ConversationMessage, error)
	deleteMessageFn                 func(context.Context, string) (bool, error)
	countMessagesFn                 func(context.Context, string) (int, error)
	loadConversationWithMessagesFn  func(context.Context, string) (store.ConversationWithMessages, error)
	loadConversationsWithMessagesFn func(context.Context, []store.ReviewConversation) ([]store.ConversationWithMessages, error)
	createApprovalFn                func(context.Context, store.TaskApproval) (store.TaskApproval, error)
	deleteApprovalFn                func(context.Context, string, string) (int64, error)
	countApprovalsFn                func(context.Context, string) (int, error)
	approvalExistsFn                func(context.Context, string, string) (bool, error)
	listApprovalsFn                 func(context.Context, string) ([]store.ApprovalWithUser, error)
	getProjectFn                    func(context.Context, string) (store.Project, error)
	createProjectFn                 func(context.Context, store.Project) (store.Project, error)
	updateProjectMinApprovalsFn     func(context.Context, string, int) (store.Project, bool, error)
	getTaskFn                       func(context.Context, string) (store.Task, error)
	createTaskFn                    func(context.Context, store.Task, store.Workspace) (store.Task, store.Workspace, error)
	deleteTaskFn                    func(context.Context, string) (bool, error)
	updateTaskStatusFn              func(context.Context, string, store.TaskStatus) (store.Task, error)
	upsertGitHubUserFn              func(context.Context, int64, string, *string, *string) (store.User, error)
	isAccessTokenRevokedFn          func(context.Context, string) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) UpsertGitHubUser(ctx context.Context, githubID int64, username string, email, avatarURL *string) (store.User, error) {
	if f.upsertGitHubUserFn != nil {
		return f.upsertGitHubUserFn(ctx, githubID, username, email, avatarURL)
	}
	return store.User{ID: "user-1", Username: username}, nil
}

func (f *fakeStore) GetUserByID(context.Context, string) (store.User, error) {
	return store.User{ID: "user-1", Username: "avery"}, nil
}

func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error) {
	if f.getWorkspaceFn != nil {
		return f.getWorkspaceFn(ctx, workspaceID)
	}
	return store.Workspace{ID: workspaceID, TaskID: "task-1", Branch: "main"}, nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, conv store.ReviewConversation, first store.ConversationMessage) error {
	if f.createConversationFn != nil {
		return f.createConversationFn(ctx, conv, first)
	}
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, conversationID string) (store.ReviewConversation, error) {
	if f.getConversationFn != nil {
		return f.getConversationFn(ctx, conversationID)
	}
	return store.ReviewConversation{}, store.ErrConversationNotFound
}

func (f *fakeStore) ListConversations(ctx context.Context, workspaceID string) ([]store.ReviewConversation, error) {
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx, workspaceID)
	}
	return nil, nil
}

func (f *fakeStore) ListUnresolvedConversations(ctx context.Context, workspaceID string) ([]store.ReviewConversation, error) {
	if f.listUnresolvedFn != nil {
		return f.listUnresolvedFn(ctx, workspaceID)
	}
	return nil, nil
}

func (f *fakeStore) ListConversationsByFilePath(ctx context.Context, workspaceID, filePath string) ([]store.ReviewConversation, error) {
	if f.listByFilePathFn != nil {
		return f.listByFilePathFn(ctx, workspaceID, filePath)
	}
	return nil, nil
}

func (f *fakeStore) ResolveConversation(ctx context.Context, conversationID, userID string, summary *string) (bool, error) {
	if f.resolveConversationFn != nil {
		return f.resolveConversationFn(ctx, conversationID, userID, summary)
	}
	return true, nil
}

func (f *fakeStore) UnresolveConversation(ctx context.Context, conversationID string) (bool, error) {
	if f.unresolveConversationFn != nil {
		return f.unresolveConversationFn(ctx, conversationID)
	}
	return true, nil
}

func (f *fakeStore) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	if f.deleteConversationFn != nil {
		return f.deleteConversationFn(ctx, conversationID)
	}
	return true, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg store.ConversationMessage) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, msg)
	}
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.ConversationMessage, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, messageID)
	}
	return store.ConversationMessage{}, store.ErrMessageNotFound
}

func (f *fakeStore) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return true, nil
}

func (f *fakeStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	if f.countMessagesFn != nil {
		return f.countMessagesFn(ctx, conversationID)
	}
	return 1, nil
}

func (f *fakeStore) LoadConversationWithMessages(ctx context.Context, conversationID string) (store.ConversationWithMessages, error) {
	if f.loadConversationWithMessagesFn != nil {
		return f.loadConversationWithMessagesFn(ctx, conversationID)
	}
	conv, err := f.GetConversation(ctx, conversationID)
	if err != nil {
		return store.ConversationWithMessages{}, err
	}
	return store.ConversationWithMessages{ReviewConversation: conv, Messages: []store.MessageWithAuthor{}}, nil
}

func (f *fakeStore) LoadConversationsWithMessages(ctx context.Context, conversations []store.ReviewConversation) ([]store.ConversationWithMessages, error) {
	if f.loadConversationsWithMessagesFn != nil {
		return f.loadConversationsWithMessagesFn(ctx, conversations)
	}
	out := make([]store.ConversationWithMessages, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, store.ConversationWithMessages{ReviewConversation: conv, Messages: []store.MessageWithAuthor{}})
	}
	return out, nil
}

func (f *fakeStore) CreateApproval(ctx context.Context, approval store.TaskApproval) (store.TaskApproval, error) {
	if f.createApprovalFn != nil {
		return f.createApprovalFn(ctx, approval)
	}
	return approval, nil
}

func (f *fakeStore) DeleteApproval(ctx context.Context, taskID, userID string) (int64, error) {
	if f.deleteApprovalFn != nil {
		return f.deleteApprovalFn(ctx, taskID, userID)
	}
	return 0, nil
}

func (f *fakeStore) CountApprovals(ctx context.Context, taskID string) (int, error) {
	if f.countApprovalsFn != nil {
		return f.countApprovalsFn(ctx, taskID)
	}
	return 0, nil
}

func (f *fakeStore) ApprovalExists(ctx context.Context, taskID, userID string) (bool, error) {
	if f.approvalExistsFn != nil {
		return f.approvalExistsFn(ctx, taskID, userID)
	}
	return false, nil
}

func (f *fakeStore) ListApprovals(ctx context.Context, taskID string) ([]store.ApprovalWithUser, error) {
	if f.listApprovalsFn != nil {
		return f.listApprovalsFn(ctx, taskID)
	}
	return nil, nil
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{ID: projectID, Name: "demo", MinApprovalsRequired: 1}, nil
}

func (f *fakeStore) CreateProject(ctx context.Context, p store.Project) (store.Project, error) {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, p)
	}
	return p, nil
}

func (f *fakeStore) UpdateProjectMinApprovals(ctx context.Context, projectID string, minApprovals int) (store.Project, bool, error) {
	if f.updateProjectMinApprovalsFn != nil {
		return f.updateProjectMinApprovalsFn(ctx, projectID, minApprovals)
	}
	return store.Project{ID: projectID, MinApprovalsRequired: minApprovals}, true, nil
}

func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) CreateTask(ctx context.Context, task store.Task, workspace store.Workspace) (store.Task, store.Workspace, error) {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, task, workspace)
	}
	return task, workspace, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID)
	}
	return true, nil
}

func (f *fakeStore) UpdateTaskStatus(ctx context.Context, taskID string, status store.TaskStatus) (store.Task, error) {
	if f.updateTaskStatusFn != nil {
		return f.updateTaskStatusFn(ctx, taskID, status)
	}
	return store.Task{ID: taskID, Status: status}, nil
}

type fakeSessions struct {
	saveFn   func(context.Context, string, string, time.Time) error
	lookupFn func(context.Context, string) (store.User, error)
	revokeFn func(context.Context, string) error
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, tokenHash)
	}
	return store.User{}, errors.New("not found")
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeFn != nil {
		return f.revokeFn(ctx, tokenHash)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
	}
	return New(cfg, fs, &fakeSessions{}, nil, nil, nil, broadcast.New(broadcast.DefaultBufferSize))
}

func testSession() Session {
	return Session{UserID: "user-1", Username: "avery"}
}

func openConversation(id, workspaceID string) store.ReviewConversation {
	return store.ReviewConversation{
		ID:          id,
		WorkspaceID: workspaceID,
		FilePath:    "src/main.go",
		LineNumber:  12,
		Side:        "new",
	}
}

func TestCreateConversationValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	cases := []struct {
		name  string
		input CreateConversationInput
	}{
		{"empty file path", CreateConversationInput{FilePath: "  ", LineNumber: 1, Side: "new", InitialMessage: "hi"}},
		{"zero line number", CreateConversationInput{FilePath: "a.go", LineNumber: 0, Side: "new", InitialMessage: "hi"}},
		{"bad side", CreateConversationInput{FilePath: "a.go", LineNumber: 1, Side: "left", InitialMessage: "hi"}},
		{"blank message", CreateConversationInput{FilePath: "a.go", LineNumber: 1, Side: "old", InitialMessage: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateConversation(context.Background(), testSession(), "ws-1", tc.input)
			var errorData *ErrorData
			if !errors.As(err, &errorData) || errorData.Type != "validation_error" {
				t.Fatalf("expected validation_error, got %v", err)
			}
		})
	}
}

func TestCreateConversationStoresFirstMessageAtomically(t *testing.T) {
	var gotConv store.ReviewConversation
	var gotFirst store.ConversationMessage
	fs := &fakeStore{
		createConversationFn: func(_ context.Context, conv store.ReviewConversation, first store.ConversationMessage) error {
			gotConv = conv
			gotFirst = first
			return nil
		},
	}
	fs.loadConversationWithMessagesFn = func(_ context.Context, id string) (store.ConversationWithMessages, error) {
		return store.ConversationWithMessages{ReviewConversation: gotConv}, nil
	}
	svc := newTestService(fs)

	full, err := svc.CreateConversation(context.Background(), testSession(), "ws-1", CreateConversationInput{
		FilePath:       "src/main.go",
		LineNumber:     42,
		Side:           "new",
		InitialMessage: "needs a nil check",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if full.WorkspaceID != "ws-1" || full.LineNumber != 42 {
		t.Fatalf("unexpected conversation %+v", full.ReviewConversation)
	}
	if gotFirst.Content != "needs a nil check" {
		t.Fatalf("expected first message to be stored, got %+v", gotFirst)
	}
	if gotFirst.UserID == nil || *gotFirst.UserID != "user-1" {
		t.Fatalf("expected first message author user-1, got %+v", gotFirst.UserID)
	}
}

func TestConversationInOtherWorkspaceIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			return openConversation(id, "ws-other"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddMessage(context.Background(), testSession(), "ws-1", "conv-1", AddMessageInput{Content: "hello"})
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestAddMessageToResolvedConversation(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			conv := openConversation(id, "ws-1")
			conv.IsResolved = true
			return conv, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddMessage(context.Background(), testSession(), "ws-1", "conv-1", AddMessageInput{Content: "hello"})
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "already_resolved" {
		t.Fatalf("expected already_resolved, got %v", err)
	}
}

func TestResolveRaceLoserGetsNotFound(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			return openConversation(id, "ws-1"), nil
		},
		resolveConversationFn: func(context.Context, string, string, *string) (bool, error) {
			// The guarded update matched zero rows: another resolver won.
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ResolveConversation(context.Background(), testSession(), "ws-1", "conv-1", ResolveConversationInput{})
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestResolvePassesSummaryThrough(t *testing.T) {
	var gotSummary *string
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			return openConversation(id, "ws-1"), nil
		},
		resolveConversationFn: func(_ context.Context, _, _ string, summary *string) (bool, error) {
			gotSummary = summary
			return true, nil
		},
		loadConversationWithMessagesFn: func(_ context.Context, id string) (store.ConversationWithMessages, error) {
			conv := openConversation(id, "ws-1")
			conv.IsResolved = true
			return store.ConversationWithMessages{ReviewConversation: conv}, nil
		},
	}
	svc := newTestService(fs)

	summary := "fixed in abc123"
	_, err := svc.ResolveConversation(context.Background(), testSession(), "ws-1", "conv-1", ResolveConversationInput{ResolutionSummary: &summary})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotSummary == nil || *gotSummary != summary {
		t.Fatalf("expected summary to reach the store, got %v", gotSummary)
	}
}

func TestDeleteLastMessageAutoDeletesConversation(t *testing.T) {
	deletedConversation := false
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			return openConversation(id, "ws-1"), nil
		},
		getMessageFn: func(_ context.Context, id string) (store.ConversationMessage, error) {
			return store.ConversationMessage{ID: id, ConversationID: "conv-1"}, nil
		},
		countMessagesFn: func(context.Context, string) (int, error) { return 0, nil },
		deleteConversationFn: func(context.Context, string) (bool, error) {
			deletedConversation = true
			return true, nil
		},
	}
	svc := newTestService(fs)

	sub := svc.Subscribe("ws-1")
	defer sub.Close()

	_, err := svc.DeleteMessage(context.Background(), testSession(), "ws-1", "conv-1", "msg-1")
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "not_found" {
		t.Fatalf("expected not_found after auto delete, got %v", err)
	}
	if !deletedConversation {
		t.Fatal("expected the conversation row to be deleted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !strings.Contains(string(payload), `"conversation_auto_deleted"`) {
		t.Fatalf("expected conversation_auto_deleted event, got %s", payload)
	}
}

func TestDeleteMessageFromOtherConversation(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			return openConversation(id, "ws-1"), nil
		},
		getMessageFn: func(_ context.Context, id string) (store.ConversationMessage, error) {
			return store.ConversationMessage{ID: id, ConversationID: "conv-other"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.DeleteMessage(context.Background(), testSession(), "ws-1", "conv-1", "msg-1")
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "message_not_found" {
		t.Fatalf("expected message_not_found, got %v", err)
	}
}

func TestMutationsBroadcastToWorkspaceSubscribers(t *testing.T) {
	fs := &fakeStore{
		getConversationFn: func(_ context.Context, id string) (store.ReviewConversation, error) {
			return openConversation(id, "ws-1"), nil
		},
		countMessagesFn: func(context.Context, string) (int, error) { return 2, nil },
	}
	svc := newTestService(fs)

	sub := svc.Subscribe("ws-1")
	defer sub.Close()
	other := svc.Subscribe("ws-2")
	defer other.Close()

	if _, err := svc.AddMessage(context.Background(), testSession(), "ws-1", "conv-1", AddMessageInput{Content: "ping"}); err != nil {
		t.Fatalf("add message: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !strings.Contains(string(payload), `"message_added"`) {
		t.Fatalf("expected message_added event, got %s", payload)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if _, err := other.Next(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no event for other workspace, got err=%v", err)
	}
}

func TestApproveTaskDuplicate(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, ProjectID: "proj-1", Status: store.TaskStatusInReview}, nil
		},
		createApprovalFn: func(context.Context, store.TaskApproval) (store.TaskApproval, error) {
			return store.TaskApproval{}, store.ErrDuplicateApproval
		},
	}
	svc := newTestService(fs)

	_, err := svc.ApproveTask(context.Background(), testSession(), "task-1")
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "duplicate_approval" {
		t.Fatalf("expected duplicate_approval, got %v", err)
	}
}

func TestUnapproveWithoutApprovalRemovesNothing(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, ProjectID: "proj-1"}, nil
		},
	}
	svc := newTestService(fs)

	removed, err := svc.UnapproveTask(context.Background(), testSession(), "task-1")
	if err != nil {
		t.Fatalf("unapprove: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}
}

func TestCompletionGateCountsApprovalsAtTransition(t *testing.T) {
	cases := []struct {
		name        string
		from        store.TaskStatus
		to          store.TaskStatus
		required    int
		have        int
		wantBlocked bool
	}{
		{"inreview to done below quorum", store.TaskStatusInReview, store.TaskStatusDone, 2, 1, true},
		{"inreview to done at quorum", store.TaskStatusInReview, store.TaskStatusDone, 2, 2, false},
		{"inreview to done above quorum", store.TaskStatusInReview, store.TaskStatusDone, 1, 3, false},
		{"zero quorum always passes", store.TaskStatusInReview, store.TaskStatusDone, 0, 0, false},
		{"todo to done is not gated", store.TaskStatusTodo, store.TaskStatusDone, 5, 0, false},
		{"inreview to cancelled is not gated", store.TaskStatusInReview, store.TaskStatusCancelled, 5, 0, false},
		{"inreview to inprogress is not gated", store.TaskStatusInReview, store.TaskStatusInProgress, 5, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{
				getTaskFn: func(_ context.Context, id string) (store.Task, error) {
					return store.Task{ID: id, ProjectID: "proj-1", Status: tc.from}, nil
				},
				getProjectFn: func(_ context.Context, id string) (store.Project, error) {
					return store.Project{ID: id, MinApprovalsRequired: tc.required}, nil
				},
				countApprovalsFn: func(context.Context, string) (int, error) {
					return tc.have, nil
				},
			}
			svc := newTestService(fs)

			task, err := svc.UpdateTaskStatus(context.Background(), testSession(), "task-1", tc.to)
			if tc.wantBlocked {
				var errorData *ErrorData
				if !errors.As(err, &errorData) || errorData.Type != "validation_error" {
					t.Fatalf("expected validation_error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("update status: %v", err)
			}
			if task.Status != tc.to {
				t.Fatalf("expected status %s, got %s", tc.to, task.Status)
			}
		})
	}
}

func TestUpdateTaskStatusRejectsUnknownStatus(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, ProjectID: "proj-1", Status: store.TaskStatusTodo}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateTaskStatus(context.Background(), testSession(), "task-1", "archived")
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "validation_error" {
		t.Fatalf("expected validation_error, got %v", err)
	}
}

func TestUpdateTaskStatusMissingTask(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UpdateTaskStatus(context.Background(), testSession(), "missing", store.TaskStatusDone)
	var errorData *ErrorData
	if !errors.As(err, &errorData) || errorData.Type != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestTaskApprovalsSummary(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, ProjectID: "proj-1", Status: store.TaskStatusInReview}, nil
		},
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, MinApprovalsRequired: 2}, nil
		},
		listApprovalsFn: func(context.Context, string) ([]store.ApprovalWithUser, error) {
			return []store.ApprovalWithUser{
				{TaskApproval: store.TaskApproval{ID: "a1", UserID: "u1"}},
				{TaskApproval: store.TaskApproval{ID: "a2", UserID: "u2"}},
			}, nil
		},
	}
	svc := newTestService(fs)

	summary, err := svc.TaskApprovals(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("approvals: %v", err)
	}
	if summary.Count != 2 || summary.MinApprovalsRequired != 2 || !summary.CanComplete {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

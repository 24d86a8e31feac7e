package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultConversation ResultType = "conversation"
	ResultMessage      ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	WorkspaceID    string     `json:"workspace_id"`
	FilePath       string     `json:"file_path,omitempty"`
	Snippet        string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterWorkspaceID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexConversation(c ConversationRecord) error
	IndexMessage(m MessageRecord) error
	DeleteConversation(id string) error
	DeleteMessage(id string) error
}

// ConversationRecord is the data we index for a review conversation.
type ConversationRecord struct {
	ID                string `json:"id"`
	WorkspaceID       string `json:"workspaceId"`
	FilePath          string `json:"filePath"`
	CodeLine          string `json:"codeLine"`
	ResolutionSummary string `json:"resolutionSummary"`
	IsResolved        bool   `json:"isResolved"`
}

// MessageRecord is the data we index for a conversation message.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	WorkspaceID    string `json:"workspaceId"`
	FilePath       string `json:"filePath"`
	Content        string `json:"content"`
}

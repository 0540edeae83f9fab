package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// ChatRequest is one user turn against the retrieval loop. ToolsList, when
// present, restricts the request to the named tools; AgentID selects a
// configured agent scope prompt.
type ChatRequest struct {
	Message   string   `json:"message"`
	ChatID    string   `json:"chatId"`
	ModelID   string   `json:"modelId"`
	ToolsList []string `json:"toolsList"`
	AgentID   string   `json:"agentId"`
}

// StopRequest cancels the active stream for a chat.
type StopRequest struct {
	ChatID string `json:"chatId"`
}

// ChatSummary is one row in the chat list.
type ChatSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

// MessageResponse is one persisted message in a chat.
type MessageResponse struct {
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Citations interface{} `json:"citations,omitempty"`
	Error     *string     `json:"error,omitempty"`
	CreatedAt string      `json:"created_at"`
}

// IngestRequest carries workspace documents into the index.
type IngestRequest struct {
	Documents []IngestDocument `json:"documents"`
}

// IngestDocument mirrors index.Document on the wire.
type IngestDocument struct {
	DocID     string `json:"doc_id"`
	App       string `json:"app"`
	Entity    string `json:"entity"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Content   string `json:"content"`
	Owner     string `json:"owner"`
	UpdatedAt string `json:"updated_at"`
}

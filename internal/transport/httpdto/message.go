package httpdto

// SendMessageRequest is used for POST /messages
type SendMessageRequest struct {
	ChatID  string `json:"chat_id" binding:"required"`
	Content []byte `json:"content" binding:"required"`
	Header  []byte `json:"header,omitempty"`
	Type    string `json:"type,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// MessageDTO represents a message in API responses
type MessageDTO struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	Seq       int64  `json:"seq"`
	SenderID  string `json:"sender_id"`
	Content   []byte `json:"content"`
	Header    []byte `json:"header,omitempty"`
	Type      string `json:"type"`
	ReplyTo   string `json:"reply_to,omitempty"`
	CreatedAt string `json:"created_at"`
	EditedAt  string `json:"edited_at,omitempty"`
}

// MessagePageResponse is returned by GET /chats/:id/messages
type MessagePageResponse struct {
	Messages   []MessageDTO `json:"messages"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// DeleteMessagesRequest is used for POST /messages/delete
type DeleteMessagesRequest struct {
	MessageIDs  []string `json:"message_ids" binding:"required"`
	ForEveryone bool     `json:"for_everyone"`
}

// DeleteMessagesResponse reports the partial outcome of a delete.
type DeleteMessagesResponse struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// EditMessageRequest is used for PATCH /messages/:id
type EditMessageRequest struct {
	Content []byte `json:"content" binding:"required"`
}

// ReactionRequest is used for PUT /messages/:id/reaction
type ReactionRequest struct {
	Reaction string `json:"reaction" binding:"required"`
}

package httpdto

// CreateDirectChatRequest is used for POST /chats/direct
type CreateDirectChatRequest struct {
	PeerID string `json:"peer_id" binding:"required"`
}

// CreateGroupChatRequest is used for POST /chats
type CreateGroupChatRequest struct {
	Kind      string   `json:"kind" binding:"required"`
	Title     string   `json:"title" binding:"required"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// AddParticipantsRequest is used for POST /chats/:id/participants
type AddParticipantsRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

// ChatDTO represents a chat in API responses
type ChatDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title,omitempty"`
	MemberCount int    `json:"member_count"`
	CreatedAt   string `json:"created_at"`
}

// ParticipantDTO represents a chat member
type ParticipantDTO struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

package handler

import (
	"net/http"

	"cipherchat/internal/domain/chat"
	"cipherchat/internal/services"
	"cipherchat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ChatHandler struct {
	service *services.ChatService
}

func NewChatHandler(service *services.ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

func chatDTO(c chat.Chat) httpdto.ChatDTO {
	dto := httpdto.ChatDTO{
		ID:          c.ID.String(),
		Kind:        c.Kind,
		MemberCount: c.MemberCount,
		CreatedAt:   c.CreatedAt.Format(timeLayout),
	}
	if c.Title.Valid {
		dto.Title = c.Title.String
	}
	return dto
}

func (h *ChatHandler) CreateDirect(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.CreateDirectChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	peerID, err := parseUUID(req.PeerID)
	if err != nil {
		badRequest(c, "invalid peer_id")
		return
	}

	created, err := h.service.CreateDirect(c.Request.Context(), id.UserID, peerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(chatDTO(created)))
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.CreateGroupChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	memberIDs := make([]uuid.UUID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		memberID, err := parseUUID(raw)
		if err != nil {
			badRequest(c, "invalid member id")
			return
		}
		memberIDs = append(memberIDs, memberID)
	}

	created, err := h.service.CreateGroup(c.Request.Context(), id.UserID, req.Kind, req.Title, memberIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(chatDTO(created)))
}

func (h *ChatHandler) Get(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	chatID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid chat id")
		return
	}

	if err := h.service.AssertActiveMember(c.Request.Context(), chatID, id.UserID); err != nil {
		respondError(c, err)
		return
	}
	got, err := h.service.GetChat(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(chatDTO(got)))
}

func (h *ChatHandler) Participants(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	chatID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid chat id")
		return
	}

	parts, err := h.service.Participants(c.Request.Context(), chatID, id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]httpdto.ParticipantDTO, 0, len(parts))
	for _, p := range parts {
		out = append(out, httpdto.ParticipantDTO{
			UserID:   p.UserID.String(),
			Role:     p.Role,
			JoinedAt: p.JoinedAt.Format(timeLayout),
		})
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"participants": out}))
}

func (h *ChatHandler) AddParticipants(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	chatID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid chat id")
		return
	}

	var req httpdto.AddParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	userIDs := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		userID, err := parseUUID(raw)
		if err != nil {
			badRequest(c, "invalid user id")
			return
		}
		userIDs = append(userIDs, userID)
	}

	if err := h.service.AddParticipants(c.Request.Context(), chatID, id.UserID, userIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"added": len(userIDs)}))
}

// RemoveParticipant handles both leaving and kicking; the service
// decides which rights the actor needs.
func (h *ChatHandler) RemoveParticipant(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	chatID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid chat id")
		return
	}
	userID, err := parseUUID(c.Param("user_id"))
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}

	if err := h.service.RemoveParticipant(c.Request.Context(), chatID, id.UserID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"removed": true}))
}

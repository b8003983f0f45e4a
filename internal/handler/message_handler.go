package handler

import (
	"net/http"
	"strconv"

	"cipherchat/internal/domain/message"
	"cipherchat/internal/services"
	"cipherchat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	service *services.MessageService
	batcher *services.Batcher
}

func NewMessageHandler(service *services.MessageService, batcher *services.Batcher) *MessageHandler {
	return &MessageHandler{service: service, batcher: batcher}
}

func messageDTO(m message.Message) httpdto.MessageDTO {
	dto := httpdto.MessageDTO{
		ID:        m.ID.String(),
		ChatID:    m.ChatID.String(),
		Seq:       m.Seq,
		SenderID:  m.SenderID.String(),
		Content:   m.Content,
		Header:    m.Header,
		Type:      m.Type,
		CreatedAt: m.CreatedAt.Format(timeLayout),
	}
	if m.ReplyTo.Valid {
		dto.ReplyTo = m.ReplyTo.UUID.String()
	}
	if m.EditedAt.Valid {
		dto.EditedAt = m.EditedAt.Time.Format(timeLayout)
	}
	return dto
}

// Send routes the message through the batcher so bursts coalesce into
// multi-row inserts.
func (h *MessageHandler) Send(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	chatID, err := parseUUID(req.ChatID)
	if err != nil {
		badRequest(c, "invalid chat_id")
		return
	}

	in := services.SendInput{
		ChatID:   chatID,
		SenderID: id.UserID,
		Content:  req.Content,
		Header:   req.Header,
		Type:     req.Type,
	}
	if req.ReplyTo != "" {
		replyTo, err := parseUUID(req.ReplyTo)
		if err != nil {
			badRequest(c, "invalid reply_to")
			return
		}
		in.ReplyTo = uuid.NullUUID{UUID: replyTo, Valid: true}
	}

	sent, err := h.batcher.Enqueue(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(messageDTO(sent)))
}

func (h *MessageHandler) List(c *gin.Context) {
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

	opts := services.ReadOptions{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if raw := c.Query("before"); raw != "" {
		before, err := parseUUID(raw)
		if err != nil {
			badRequest(c, "invalid before cursor")
			return
		}
		opts.BeforeID = uuid.NullUUID{UUID: before, Valid: true}
	}
	if raw := c.Query("after"); raw != "" {
		after, err := parseUUID(raw)
		if err != nil {
			badRequest(c, "invalid after cursor")
			return
		}
		opts.AfterID = uuid.NullUUID{UUID: after, Valid: true}
	}

	res, err := h.service.Read(c.Request.Context(), chatID, id.UserID, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	page := httpdto.MessagePageResponse{
		Messages: make([]httpdto.MessageDTO, 0, len(res.Messages)),
		HasMore:  res.HasMore,
	}
	for _, m := range res.Messages {
		page.Messages = append(page.Messages, messageDTO(m))
	}
	if res.NextCursor.Valid {
		page.NextCursor = res.NextCursor.UUID.String()
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.DeleteMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.MessageIDs))
	for _, raw := range req.MessageIDs {
		messageID, err := parseUUID(raw)
		if err != nil {
			badRequest(c, "invalid message id")
			return
		}
		ids = append(ids, messageID)
	}

	res, err := h.service.Delete(c.Request.Context(), ids, id.UserID, req.ForEveryone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.DeleteMessagesResponse{
		Deleted: res.DeletedCount,
		Failed:  res.FailedCount,
	}))
}

func (h *MessageHandler) Edit(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}

	var req httpdto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	edited, err := h.service.Edit(c.Request.Context(), messageID, id.UserID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(messageDTO(edited)))
}

func (h *MessageHandler) React(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}

	var req httpdto.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.service.React(c.Request.Context(), messageID, id.UserID, req.Reaction); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"reacted": true}))
}

func (h *MessageHandler) Unreact(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}

	if err := h.service.Unreact(c.Request.Context(), messageID, id.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"reacted": false}))
}

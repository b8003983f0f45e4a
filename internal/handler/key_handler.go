package handler

import (
	"net/http"

	"cipherchat/internal/services"
	"cipherchat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type KeyHandler struct {
	service *services.KeyService
}

func NewKeyHandler(service *services.KeyService) *KeyHandler {
	return &KeyHandler{service: service}
}

// Bundle hands out a prekey bundle for the given user, consuming one
// one-time prekey when the pool has any left.
func (h *KeyHandler) Bundle(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	targetID, err := parseUUID(c.Param("user_id"))
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}

	bundle, err := h.service.ConsumePrekey(c.Request.Context(), targetID, id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := httpdto.PrekeyBundleResponse{
		IdentityKey: bundle.IdentityKey,
		SignedPrekey: httpdto.SignedPrekey{
			KeyID:     bundle.SignedPreKey.KeyID,
			PublicKey: bundle.SignedPreKey.PublicKey,
			Signature: bundle.SignedPreKey.Signature,
		},
	}
	if bundle.OneTimePreKey != nil {
		resp.OneTimePrekey = &httpdto.OneTimePrekey{
			KeyID:     bundle.OneTimePreKey.KeyID,
			PublicKey: bundle.OneTimePreKey.PublicKey,
		}
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(resp))
}

func (h *KeyHandler) RotateSignedPrekey(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.RotateSignedPrekeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	err := h.service.RotateSignedPrekey(c.Request.Context(), id.UserID, services.SignedPrekeyInput{
		KeyID:     req.SignedPrekey.KeyID,
		PublicKey: req.SignedPrekey.PublicKey,
		Signature: req.SignedPrekey.Signature,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"rotated": true}))
}

func (h *KeyHandler) UploadOneTimePrekeys(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.UploadPrekeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	otpks := make([]services.OneTimePrekeyInput, 0, len(req.OneTimePrekeys))
	for _, k := range req.OneTimePrekeys {
		otpks = append(otpks, services.OneTimePrekeyInput{KeyID: k.KeyID, PublicKey: k.PublicKey})
	}

	if err := h.service.UploadOneTimePrekeys(c.Request.Context(), id.UserID, otpks); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"uploaded": len(otpks)}))
}

func (h *KeyHandler) PrekeyCount(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	n, err := h.service.AvailablePrekeyCount(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PrekeyCountResponse{Available: n}))
}

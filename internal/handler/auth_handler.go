package handler

import (
	"net/http"

	"cipherchat/internal/services"
	"cipherchat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service *services.AuthService
	devices *services.DeviceService
}

func NewAuthHandler(service *services.AuthService, devices *services.DeviceService) *AuthHandler {
	return &AuthHandler{service: service, devices: devices}
}

func deviceContext(c *gin.Context) services.DeviceContext {
	return services.DeviceContext{
		SourceAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
}

func loginResponse(res services.LoginResult) httpdto.LoginResponse {
	return httpdto.LoginResponse{
		UserID:           res.User.ID.String(),
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		AccessExpiresIn:  res.Tokens.AccessExpiresIn,
		RefreshExpiresIn: res.Tokens.RefreshExpiresIn,
		Challenge:        res.TwoFactorChallenge,
		DeviceTrusted:    res.Device.Trusted,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req httpdto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	otpks := make([]services.OneTimePrekeyInput, 0, len(req.OneTimePrekeys))
	for _, k := range req.OneTimePrekeys {
		otpks = append(otpks, services.OneTimePrekeyInput{KeyID: k.KeyID, PublicKey: k.PublicKey})
	}

	res, err := h.service.Register(c.Request.Context(), services.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DeviceToken: req.DeviceToken,
		IdentityKey: req.IdentityKey,
		SignedPrekey: services.SignedPrekeyInput{
			KeyID:     req.SignedPrekey.KeyID,
			PublicKey: req.SignedPrekey.PublicKey,
			Signature: req.SignedPrekey.Signature,
		},
		OneTimePrekeys: otpks,
		Device:         deviceContext(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(loginResponse(res)))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req httpdto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.Login(c.Request.Context(), req.Username, req.Password, req.DeviceToken, deviceContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(loginResponse(res)))
}

func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req httpdto.VerifyTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.service.VerifyTwoFactor(c.Request.Context(), req.Challenge, req.Code, deviceContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(loginResponse(res)))
}

func (h *AuthHandler) EnableTwoFactor(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	secret, url, err := h.service.EnableTwoFactor(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.EnableTwoFactorResponse{Secret: secret, URL: url}))
}

func (h *AuthHandler) ConfirmTwoFactor(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.TwoFactorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.service.ConfirmTwoFactor(c.Request.Context(), id.UserID, req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"enabled": true}))
}

func (h *AuthHandler) DisableTwoFactor(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.TwoFactorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.service.DisableTwoFactor(c.Request.Context(), id.UserID, req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"enabled": false}))
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req httpdto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	pair, err := h.service.Refresh(c.Request.Context(), req.RefreshToken, req.DeviceToken, c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.RefreshResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresIn:  pair.AccessExpiresIn,
		RefreshExpiresIn: pair.RefreshExpiresIn,
	}))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.service.Logout(c.Request.Context(), id.UserID, req.RefreshToken, id.Fingerprint, c.ClientIP()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"logged_out": true}))
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	if err := h.service.LogoutAll(c.Request.Context(), id.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"logged_out": true}))
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	var req httpdto.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"changed": true}))
}

func (h *AuthHandler) ListDevices(c *gin.Context) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		unauthorized(c)
		return
	}

	list, err := h.devices.Devices(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]httpdto.DeviceDTO, 0, len(list))
	for _, d := range list {
		dto := httpdto.DeviceDTO{
			Fingerprint:  d.Fingerprint,
			Trusted:      d.Trusted,
			RegisteredIP: d.RegisteredIP,
			UserAgent:    d.UserAgent,
			RegisteredAt: d.RegisteredAt.Format(timeLayout),
		}
		if d.LastSeenAt.Valid {
			dto.LastSeenAt = d.LastSeenAt.Time.Format(timeLayout)
		}
		out = append(out, dto)
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"devices": out}))
}

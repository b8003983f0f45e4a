package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cipherchat/config"
	"cipherchat/internal/handler"
	"cipherchat/internal/middleware"
	"cipherchat/internal/session"
	"cipherchat/internal/token"
	"cipherchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth    *handler.AuthHandler
	Keys    *handler.KeyHandler
	Chats   *handler.ChatHandler
	Message *handler.MessageHandler
}

type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

func New(cfg *config.Config, h Handlers, issuer *token.Issuer, sessions session.Registry, log *logger.Logger) *Server {
	if cfg.AppMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/2fa/verify", h.Auth.VerifyTwoFactor)
		auth.POST("/refresh", h.Auth.Refresh)
	}

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(issuer, sessions))
	{
		authed.POST("/auth/logout", h.Auth.Logout)
		authed.POST("/auth/logout-all", h.Auth.LogoutAll)
		authed.POST("/auth/password", h.Auth.ChangePassword)
		authed.POST("/auth/2fa/enable", h.Auth.EnableTwoFactor)
		authed.POST("/auth/2fa/confirm", h.Auth.ConfirmTwoFactor)
		authed.POST("/auth/2fa/disable", h.Auth.DisableTwoFactor)
		authed.GET("/auth/devices", h.Auth.ListDevices)

		authed.GET("/keys/bundle/:user_id", h.Keys.Bundle)
		authed.POST("/keys/signed-prekey", h.Keys.RotateSignedPrekey)
		authed.POST("/keys/one-time", h.Keys.UploadOneTimePrekeys)
		authed.GET("/keys/one-time/count", h.Keys.PrekeyCount)

		authed.POST("/chats", h.Chats.CreateGroup)
		authed.POST("/chats/direct", h.Chats.CreateDirect)
		authed.GET("/chats/:id", h.Chats.Get)
		authed.GET("/chats/:id/participants", h.Chats.Participants)
		authed.POST("/chats/:id/participants", h.Chats.AddParticipants)
		authed.DELETE("/chats/:id/participants/:user_id", h.Chats.RemoveParticipant)
		authed.GET("/chats/:id/messages", h.Message.List)

		authed.POST("/messages", h.Message.Send)
		authed.POST("/messages/delete", h.Message.Delete)
		authed.PATCH("/messages/:id", h.Message.Edit)
		authed.PUT("/messages/:id/reaction", h.Message.React)
		authed.DELETE("/messages/:id/reaction", h.Message.Unreact)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.AppPort),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

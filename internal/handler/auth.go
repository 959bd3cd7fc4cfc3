package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/middleware"
	"flag-classifier/internal/service"
	"flag-classifier/internal/session"
)

type AuthHandler struct {
	authService service.AuthService
	positions   session.PositionStore
	catalog     *catalog.Catalog
	logger      *zap.Logger
}

// NewAuthHandler creates the auth handler. Restored positions are checked
// against images.
func NewAuthHandler(authService service.AuthService, positions session.PositionStore, images *catalog.Catalog, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, positions: positions, catalog: images, logger: logger}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LogoutRequest struct {
	Position *int `json:"position" binding:"omitempty,min=0"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expert, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExpertAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrRegistrationClosed):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Failed to register expert", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register expert"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Expert registered successfully",
		"username": expert.Username,
		"id":       expert.ID,
	})
}

// Login issues a token and returns the position the expert last reached.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokenString, expirationTime, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrExpertNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.logger.Error("Failed to login expert", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}

	position := 0
	if h.positions != nil {
		saved, ok, err := h.positions.LoadPosition(c.Request.Context(), req.Username)
		if err != nil {
			h.logger.Warn("Failed to load saved position", zap.String("username", req.Username), zap.Error(err))
		} else if ok {
			position = restorePosition(h.catalog, saved)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"token":      tokenString,
		"expires_at": expirationTime,
		"username":   req.Username,
		"position":   position,
	})
}

// Logout saves the position sent by the client, if any.
func (h *AuthHandler) Logout(c *gin.Context) {
	username := middleware.Username(c)

	var req LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if req.Position != nil && h.positions != nil {
		if err := h.positions.SavePosition(c.Request.Context(), username, *req.Position); err != nil {
			h.logger.Error("Failed to save position", zap.String("username", username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save position"})
			return
		}
	}

	if err := h.authService.Logout(c.Request.Context(), username); err != nil {
		h.logger.Error("Failed to logout expert", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// CurrentUser names the caller; anonymous when no credentials were sent.
func (h *AuthHandler) CurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"username": middleware.Username(c)})
}

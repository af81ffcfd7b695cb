package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"noisemap/internal/api/middleware"
	"noisemap/internal/apperr"
	"noisemap/internal/logging"
	"noisemap/internal/services"
)

type AuthHandler struct {
	auth     *services.AuthService
	sessions *middleware.Sessions
}

func NewAuthHandler(auth *services.AuthService, sessions *middleware.Sessions) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		sessions: sessions,
	}
}

type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /register
func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("api.register", "invalid body: %v", err))
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "user registered",
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles POST /login. The session token is set as an HTTP-only
// cookie and also returned for clients that send bearer tokens.
func (h *AuthHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("api.login", "invalid body: %v", err))
		return
	}

	user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	token, expires, err := h.sessions.Issue(user.ID, user.Username)
	if err != nil {
		middleware.AbortWithError(c, apperr.Wrap("api.login", err))
		return
	}
	h.sessions.SetCookie(c, token, expires)

	c.JSON(http.StatusOK, gin.H{
		"message":    "logged in",
		"user_id":    user.ID,
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

// Logout handles GET /logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetSessionClaims(c)
	if claims != nil {
		if err := h.sessions.Revoke(c.Request.Context(), claims); err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Str("user_id", claims.Subject).Msg("session revoke failed")
		}
	}
	h.sessions.ClearCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Profile handles GET /profile
func (h *AuthHandler) Profile(c *gin.Context) {
	profile, err := h.auth.Profile(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

package api

import (
	"errors"
	"net/http"

	"metagen/server/internal/auth"
	"metagen/server/internal/provider"
	"metagen/server/internal/store"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid registration payload", false, nil)
		return
	}
	user, tokens, err := s.auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var ie *auth.InputError
		switch {
		case errors.As(err, &ie):
			writeValidation(c, provider.Issue{Field: ie.Field, Message: ie.Message})
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(c, http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists", false, nil)
		default:
			s.log.Error("register_failed", "trace_id", traceIDFromContext(c), "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create account", true, nil)
		}
		return
	}
	s.setSessionCookie(c, tokens)
	writeData(c, http.StatusCreated, gin.H{
		"access_token":   tokens.AccessToken,
		"refresh_token":  tokens.RefreshToken,
		"expires_in_sec": tokens.ExpiresInSec,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

func (s *Server) login(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid login payload", false, nil)
		return
	}
	user, tokens, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", false, nil)
		return
	}
	s.setSessionCookie(c, tokens)
	writeData(c, http.StatusOK, gin.H{
		"access_token":   tokens.AccessToken,
		"refresh_token":  tokens.RefreshToken,
		"expires_in_sec": tokens.ExpiresInSec,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) refresh(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "refresh_token is required", false, nil)
		return
	}
	tokens, err := s.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			writeError(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token expired", false, nil)
			return
		}
		writeUnauthorized(c)
		return
	}
	s.setSessionCookie(c, tokens)
	writeData(c, http.StatusOK, gin.H{
		"access_token":   tokens.AccessToken,
		"refresh_token":  tokens.RefreshToken,
		"expires_in_sec": tokens.ExpiresInSec,
	})
}

func (s *Server) logout(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "refresh_token is required", false, nil)
		return
	}
	if err := s.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeUnauthorized(c)
		return
	}
	s.clearSessionCookie(c)
	writeData(c, http.StatusOK, gin.H{"ok": true})
}

func (s *Server) check(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{"authenticated": true})
}

func (s *Server) me(c *gin.Context) {
	userID := userIDFromContext(c)
	if userID == "" {
		writeUnauthorized(c)
		return
	}
	user, err := s.store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeUnauthorized(c)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", false, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"id":     user.ID,
		"email":  user.Email,
		"role":   user.Role,
		"status": user.Status,
	})
}

func (s *Server) setSessionCookie(c *gin.Context, tokens auth.Tokens) {
	if s.cookie == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, tokens.AccessToken, int(tokens.ExpiresInSec), "/", "", s.secure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	if s.cookie == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, "", -1, "/", "", s.secure, true)
}

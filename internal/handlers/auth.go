package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/middleware"
)

const tokenTTL = 24 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login issues an operator token for the stream admin API.
// For demo purposes, accepts any username/password combination
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		now := time.Now()
		expires := now.Add(tokenTTL)
		claims := middleware.JWTClaims{
			UserID: req.Username,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   req.Username,
				ExpiresAt: jwt.NewNumericDate(expires),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
			},
		}

		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
		if err != nil {
			logger.Errorf("Failed to sign token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		logger.Infof("Issued operator token for %s", req.Username)
		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			UserID:    req.Username,
			ExpiresAt: expires,
		})
	}
}

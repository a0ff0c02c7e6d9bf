package controllers

import (
	"net/http"
	"time"

	"quasar_backend/middleware"
	"quasar_backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const operatorTokenTTL = 12 * time.Hour

// AuthController handles operator authentication
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates a new auth controller
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// LoginRequest is the operator login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an operator and issues a session token
// POST /api/v1/auth/login
func (ac *AuthController) Login(c *gin.Context) {
	ip := c.ClientIP()

	if middleware.LoginRateLimiter != nil {
		allowed, retryAfter := middleware.LoginRateLimiter.Check(ip)
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "too_many_attempts",
				"retry_after": retryAfter.Round(time.Second).String(),
			})
			return
		}
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "username and password are required",
		})
		return
	}

	var op models.Operator
	err := ac.db.Where("username = ? AND is_active = ?", req.Username, true).First(&op).Error
	authenticated := err == nil && op.CheckPassword(req.Password)

	if middleware.LoginRateLimiter != nil {
		middleware.LoginRateLimiter.RecordAttempt(ip, authenticated)
	}

	if !authenticated {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "invalid username or password",
		})
		return
	}

	token, err := middleware.IssueOperatorToken(op.Username, operatorTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to issue token",
		})
		return
	}

	now := time.Now()
	ac.db.Model(&op).Update("last_login_at", now)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(operatorTokenTTL.Seconds()),
		"username":   op.Username,
	})
}

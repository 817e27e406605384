package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/config"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/pkg/response"
)

type AuthHandler struct {
	cfg *config.AdminConfig
}

func NewAuthHandler(cfg *config.AdminConfig) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login godoc
// @Summary Admin login
// @Description Exchange admin credentials for a bearer token guarding the operational endpoints
// @Tags auth
// @Accept json
// @Produce json
// @Param credentials body LoginRequest true "Admin credentials"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "username and password are required")
		return
	}

	if h.cfg.PasswordHash == "" {
		response.Error(c, http.StatusServiceUnavailable, "admin access is not configured")
		return
	}

	if req.Username != h.cfg.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)) != nil {
		response.Error(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"iat": now.Unix(),
		"exp": now.Add(h.cfg.JWTExpire).Unix(),
	})

	signed, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to sign token")
		return
	}

	response.OK(c, gin.H{
		"token":     signed,
		"expiresAt": now.Add(h.cfg.JWTExpire).Unix(),
	})
}

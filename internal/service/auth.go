package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ifuryst/reposter/internal/config"
)

const SessionCookie = "auth_token"

var ErrInvalidCode = errors.New("invalid TOTP code")

type AuthService struct {
	logger *zap.Logger
	config *config.AuthConfig
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewAuthService(cfg *config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		logger:   logger,
		config:   cfg,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

func (a *AuthService) Enabled() bool {
	return a.config.Enabled
}

func (a *AuthService) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Reposter",
		AccountName: "admin",
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return key.Secret(), nil
}

func (a *AuthService) ValidateCode(code string) bool {
	valid := totp.Validate(strings.TrimSpace(code), a.config.TOTPSecret)
	if valid {
		a.logger.Info("TOTP code validation successful")
	} else {
		a.logger.Warn("TOTP code validation failed")
	}
	return valid
}

// Login exchanges a TOTP code for a session token.
func (a *AuthService) Login(code string) (string, error) {
	if a.config.TOTPSecret == "" || !a.ValidateCode(code) {
		return "", ErrInvalidCode
	}

	token := uuid.NewString()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()
	a.sessions[token] = a.now().Add(a.config.SessionTTL)
	return token, nil
}

func (a *AuthService) Logout(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
}

func (a *AuthService) ValidSession(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.sessions[token]
	if !ok {
		return false
	}
	if !a.now().Before(expires) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AuthService) pruneLocked() {
	now := a.now()
	for token, expires := range a.sessions {
		if !now.Before(expires) {
			delete(a.sessions, token)
		}
	}
}

func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.config.Enabled ||
			c.Request.URL.Path == "/health" ||
			c.Request.URL.Path == "/api/v1/auth/login" {
			c.Next()
			return
		}

		token, err := c.Cookie(SessionCookie)
		if err != nil || !a.ValidSession(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		c.Next()
	}
}

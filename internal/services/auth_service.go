package services

import (
	"fmt"
	"time"

	"shoporder/internal/models"
	"shoporder/pkg/logger"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

// AuthService issues and validates the JWTs that identify an actor. Login
// and registration live in the account service; only tokens cross over.
type AuthService struct {
	jwtSecret  []byte
	tokenDurat time.Duration // Duration for which JWT is valid
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{
		jwtSecret:  []byte(jwtSecret),
		tokenDurat: 24 * time.Hour,
	}
}

// IssueToken signs a token for actor.
func (s *AuthService) IssueToken(actor models.Actor) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": actor.UserID,
		"role":    string(actor.Role),
		"exp":     now.Add(s.tokenDurat).Unix(),
		"iat":     now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a JWT, returning the actor it names.
// Tokens without a role are treated as customers.
func (s *AuthService) ValidateToken(tokenString string) (models.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		logger.Debug("token validation failed", zap.Error(err))
		return models.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Actor{}, fmt.Errorf("invalid token")
	}

	// JSON numbers decode as float64.
	rawID, ok := claims["user_id"].(float64)
	if !ok || rawID <= 0 {
		return models.Actor{}, fmt.Errorf("invalid token: missing user_id")
	}
	actor := models.Actor{UserID: int64(rawID), Role: models.RoleCustomer}
	if role, ok := claims["role"].(string); ok && role != "" {
		switch models.Role(role) {
		case models.RoleCustomer, models.RoleStaff, models.RoleAdmin:
			actor.Role = models.Role(role)
		default:
			return models.Actor{}, fmt.Errorf("invalid token: unknown role %q", role)
		}
	}
	return actor, nil
}

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/univote/backend/internal/models"
)

const tokenIssuer = "univote"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the session token payload. Role stays the raw claim string;
// Resolve normalizes it so an unknown value never grants admin.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and checks HS256 session tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// NewJWTService creates a JWT service whose tokens live for expireHours.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    time.Duration(expireHours) * time.Hour,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Generate signs a token for the user.
func (s *JWTService) Generate(userID uuid.UUID, email string, role models.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses tokenString and returns its claims. Every failure wraps ErrInvalidToken;
// expired tokens additionally match ErrExpiredToken.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errors.Join(ErrInvalidToken, ErrExpiredToken)
	case err != nil:
		return nil, ErrInvalidToken
	case claims.UserID == uuid.Nil:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve validates a token and returns the user ID with its normalized role.
func (s *JWTService) Resolve(tokenString string) (uuid.UUID, models.Role, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return uuid.Nil, "", err
	}
	return claims.UserID, models.ParseRole(claims.Role), nil
}

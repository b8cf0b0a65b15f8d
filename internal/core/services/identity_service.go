package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rillcall/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Avatar   string        `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() domain.PeerIdentity {
	name := c.Username
	if name == "" {
		name = string(c.UserID)
	}
	return domain.PeerIdentity{
		UserID:      c.UserID,
		DisplayName: name,
		AvatarRef:   c.Avatar,
	}
}

// IdentityService validates tokens issued by the auth backend and exposes the
// node's own user as the identity provider.
type IdentityService struct {
	jwtSecret []byte
	nodeToken string
	now       func() time.Time
}

func NewIdentityService(jwtSecret, nodeToken string) *IdentityService {
	return &IdentityService{
		jwtSecret: []byte(jwtSecret),
		nodeToken: nodeToken,
		now:       time.Now,
	}
}

// GenerateToken signs a token the way the auth backend does. Used by tooling and tests.
func (s *IdentityService) GenerateToken(identity domain.PeerIdentity, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   identity.UserID,
		Username: identity.DisplayName,
		Avatar:   identity.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *IdentityService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CurrentUser returns the identity carried by the node token.
func (s *IdentityService) CurrentUser(ctx context.Context) (domain.PeerIdentity, error) {
	if s.nodeToken == "" {
		return domain.PeerIdentity{}, domain.ErrUnauthenticated
	}
	claims, err := s.ValidateToken(s.nodeToken)
	if err != nil {
		return domain.PeerIdentity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return claims.Identity(), nil
}

// StaticIdentity is an identity provider with a fixed user.
type StaticIdentity domain.PeerIdentity

func (s StaticIdentity) CurrentUser(context.Context) (domain.PeerIdentity, error) {
	return domain.PeerIdentity(s), nil
}

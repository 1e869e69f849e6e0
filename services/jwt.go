package services

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lac-hong-legacy/academy_api/dto"
)

const (
	JWT_SVC = "jwt_svc"

	tokenIssuer  = "academy_api"
	bearerPrefix = "Bearer "
)

var (
	ErrMissingBearer = errors.New("authorization header is missing")
	ErrMalformedAuth = errors.New("authorization header must use the Bearer scheme")
)

// OperatorClaims identify the caller of the admin API. The registered ID doubles as the audit session id.
type OperatorClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues and verifies HS256 operator tokens.
type JWTService struct {
	context.DefaultService

	ttl    time.Duration
	secret []byte
	parser *jwt.Parser
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	svc := &JWTService{}
	svc.init(secret, ttl)
	return svc
}

func (svc *JWTService) init(secret string, ttl time.Duration) {
	svc.secret = []byte(secret)
	svc.ttl = ttl
	svc.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
}

func (svc JWTService) Id() string {
	return JWT_SVC
}

func (svc *JWTService) Configure(ctx *context.Context) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	ttl := 24 * time.Hour
	if d, err := time.ParseDuration(os.Getenv("JWT_ACCESS_TTL")); err == nil && d > 0 {
		ttl = d
	}
	svc.init(secret, ttl)
	return svc.DefaultService.Configure(ctx)
}

func (svc *JWTService) Start() error {
	return nil
}

func (svc *JWTService) TTL() time.Duration {
	return svc.ttl
}

// BearerToken pulls the token out of an Authorization header value.
func (svc *JWTService) BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingBearer
	}
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMalformedAuth
	}
	return strings.TrimSpace(token), nil
}

func (svc *JWTService) VerifyToken(raw string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	if _, err := svc.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return svc.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}

func (svc *JWTService) IssueToken(userID, email, role string) (string, error) {
	now := time.Now()
	claims := &OperatorClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(svc.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

func (svc *JWTService) IssueTokenPair(userID, email, role string) (*dto.TokenPair, error) {
	access, err := svc.IssueToken(userID, email, role)
	if err != nil {
		return nil, err
	}
	return &dto.TokenPair{
		AccessToken: access,
		ExpiresIn:   int64(svc.ttl.Seconds()),
	}, nil
}

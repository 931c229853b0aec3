package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/workbook-backend/internal/platform/ctxutil"
	"github.com/yungbote/workbook-backend/internal/platform/logger"
)

const defaultAccessTTL = time.Hour

// AuthService verifies bearer tokens issued by the account service. Tokens are
// HS256 JWTs whose subject is the user id.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueAccessToken(userID, sessionID uuid.UUID) (string, error)
	GetAccessTTL() time.Duration
}

type JWTClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
	accessTTL    time.Duration
	now          func() time.Time
}

func NewAuthService(log *logger.Logger, jwtSecretKey string, accessTTL time.Duration) (AuthService, error) {
	if strings.TrimSpace(jwtSecretKey) == "" {
		return nil, errors.New("jwt secret key required")
	}
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	return &authService{
		log:          log.With("service", "AuthService"),
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
		now:          time.Now,
	}, nil
}

// IssueAccessToken signs a token for userID. Production tokens come from the
// account service; this is used by tooling and tests.
func (as *authService) IssueAccessToken(userID, sessionID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", errors.New("user id required")
	}
	now := as.now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if sessionID != uuid.Nil {
		claims.SessionID = sessionID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

// SetContextFromToken attaches the caller to ctx. An empty token leaves ctx
// unchanged and returns no error; callers decide whether anonymous access is allowed.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, nil
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(as.now),
	)
	parsedToken, err := parser.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return ctx, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, errors.New("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return ctx, fmt.Errorf("invalid user id in token: %w", err)
	}
	rd := &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}
	if claims.SessionID != "" {
		if sid, sErr := uuid.Parse(claims.SessionID); sErr == nil {
			rd.SessionID = sid
		} else {
			as.log.Debug("Ignoring malformed session id claim", "error", sErr)
		}
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}

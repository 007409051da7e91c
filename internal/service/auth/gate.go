package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

var (
	ErrMissingToken   = errors.New("authentication token required")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrUnknownSubject = errors.New("user not found")
	ErrUserNotFound   = errors.New("user does not exist")
)

// Reason tags why a token was rejected.
type Reason string

const (
	ReasonMissingToken   Reason = "missing_token"
	ReasonInvalidToken   Reason = "invalid_token"
	ReasonExpiredToken   Reason = "expired_token"
	ReasonUnknownSubject Reason = "unknown_subject"
	ReasonInternal       Reason = "internal"
)

// RejectedError is returned by Resolve for every failed resolution.
type RejectedError struct {
	Reason Reason
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("token rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the rejection reason from err, or ReasonInternal when err
// did not come from Resolve.
func ReasonOf(err error) Reason {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return ReasonInternal
}

// UserDirectory looks up accounts by id. FindByID returns ErrUserNotFound
// when no account has the id.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (user.User, error)
}

// Gate verifies bearer tokens and resolves them to identities.
type Gate struct {
	key    []byte
	parser *jwt.Parser
	users  UserDirectory
	logger *slog.Logger
}

// NewGate builds a gate for the signing parameters in cfg.
func NewGate(cfg config.AuthConfig, users UserDirectory, logger *slog.Logger) (*Gate, error) {
	if !cfg.Enabled() {
		return nil, errors.New("auth signing key is not configured")
	}
	if users == nil {
		return nil, errors.New("user directory is required")
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	if !strings.HasPrefix(algorithm, "HS") {
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Gate{
		key:    []byte(cfg.SigningKey),
		parser: jwt.NewParser(opts...),
		users:  users,
		logger: logger.With(slog.String("component", "auth")),
	}, nil
}

// Resolve verifies token and returns the identity it names. It has no side
// effects and may be called concurrently.
func (g *Gate) Resolve(ctx context.Context, token string) (user.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.Identity{}, &RejectedError{Reason: ReasonMissingToken, Err: ErrMissingToken}
	}

	claims := jwt.MapClaims{}
	if _, err := g.parser.ParseWithClaims(token, claims, g.keyFunc); err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = ReasonExpiredToken
		}
		return user.Identity{}, &RejectedError{Reason: reason, Err: fmt.Errorf("%w: %w", ErrInvalidToken, err)}
	}

	if tokenType, ok := claims["token_type"]; ok && tokenType != "access" {
		return user.Identity{}, &RejectedError{
			Reason: ReasonInvalidToken,
			Err:    fmt.Errorf("%w: token_type %v is not an access token", ErrInvalidToken, tokenType),
		}
	}

	userID, err := subjectID(claims)
	if err != nil {
		return user.Identity{}, &RejectedError{Reason: ReasonInvalidToken, Err: fmt.Errorf("%w: %w", ErrInvalidToken, err)}
	}

	account, err := g.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return user.Identity{}, &RejectedError{Reason: ReasonUnknownSubject, Err: ErrUnknownSubject}
		}
		g.logger.ErrorContext(ctx, "user lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return user.Identity{}, &RejectedError{Reason: ReasonInternal, Err: fmt.Errorf("lookup user %d: %w", userID, err)}
	}

	return user.IdentityOf(account), nil
}

func (g *Gate) keyFunc(*jwt.Token) (any, error) {
	return g.key, nil
}

func subjectID(claims jwt.MapClaims) (int64, error) {
	raw, ok := claims["user_id"]
	if !ok {
		return 0, errors.New("user_id claim missing")
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || v < 1 || v > math.MaxInt64 {
			return 0, fmt.Errorf("user_id claim %v is not a valid id", v)
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 1 {
			return 0, fmt.Errorf("user_id claim %q is not a valid id", v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("user_id claim has unexpected type %T", raw)
	}
}

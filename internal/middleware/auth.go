package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voicedesk/assistant/backend/internal/model/user"
	"github.com/voicedesk/assistant/backend/internal/service/auth"
	"github.com/voicedesk/assistant/backend/pkg/utils"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (user.Identity, error)
}

type identityKey struct{}

// WithIdentity stores the resolved identity on ctx.
func WithIdentity(ctx context.Context, identity user.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored by RequireBearer.
func IdentityFrom(ctx context.Context) (user.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(user.Identity)
	return identity, ok
}

// RequireBearer rejects requests without a valid Authorization bearer token.
func RequireBearer(authenticator Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http_auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, err.Error())
				return
			}

			identity, err := authenticator.Resolve(r.Context(), token)
			if err != nil {
				switch auth.ReasonOf(err) {
				case auth.ReasonUnknownSubject:
					utils.RespondError(w, http.StatusUnauthorized, "User not found")
				case auth.ReasonInternal:
					logger.ErrorContext(r.Context(), "token resolution failed", slog.Any("error", err))
					utils.RespondError(w, http.StatusInternalServerError, "Authentication failed")
				default:
					utils.RespondError(w, http.StatusUnauthorized, "Invalid or expired token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// errNoIdentity is returned by MustIdentity outside RequireBearer.
var errNoIdentity = errors.New("request has no authenticated identity")

// MustIdentity returns the identity or an error when the route is not behind
// RequireBearer.
func MustIdentity(r *http.Request) (user.Identity, error) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		return user.Identity{}, errNoIdentity
	}
	return identity, nil
}

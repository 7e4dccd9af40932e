package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"satsync/internal/domain"
	derrors "satsync/pkg/domain-errors"
)

// TokenValidator checks bearer tokens and resolves the account they belong
// to.
type TokenValidator interface {
	Validate(token string) (domain.AccountID, error)
}

// HMACValidator validates HS256 tokens whose subject is the account id.
type HMACValidator struct {
	key []byte
}

func NewHMACValidator(key []byte) *HMACValidator {
	return &HMACValidator{key: key}
}

func (v *HMACValidator) Validate(token string) (domain.AccountID, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired())
	if err != nil {
		return domain.AccountID{}, fmt.Errorf("parse token: %w", err)
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return domain.AccountID{}, fmt.Errorf("token subject: %w", err)
	}
	accountID, err := domain.ParseAccountID(subject)
	if err != nil {
		return domain.AccountID{}, fmt.Errorf("token subject: %w", err)
	}
	return accountID, nil
}

type contextKeyAccountID struct{}

// AccountFromContext returns the authenticated account, or false outside the
// auth middleware.
func AccountFromContext(ctx context.Context) (domain.AccountID, bool) {
	accountID, ok := ctx.Value(contextKeyAccountID{}).(domain.AccountID)
	return accountID, ok
}

// RequireAuth rejects requests without a valid bearer token and stores the
// account id in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				WriteError(w, derrors.New(derrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			accountID, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected token", slog.String("error", err.Error()))
				WriteError(w, derrors.New(derrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyAccountID{}, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

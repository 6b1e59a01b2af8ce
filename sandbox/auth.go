package sandbox

import (
	"context"
	"net/http"
	"strings"

	"github.com/alovak/cardflow-checkout/internal/apitoken"
	"github.com/alovak/cardflow-checkout/internal/chargeclient"
	"golang.org/x/exp/slog"
)

type contextKey string

const businessIDKey = contextKey("business_id")

// BusinessID returns the business the request acts for.
func BusinessID(ctx context.Context) string {
	id, _ := ctx.Value(businessIDKey).(string)
	return id
}

// BusinessMiddleware resolves the business of a request. With a secret it
// requires a valid bearer token and takes the business from its subject;
// otherwise it trusts the X-Business-Id header.
func BusinessMiddleware(logger *slog.Logger, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			businessID := r.Header.Get(chargeclient.HeaderBusinessID)

			if secret != "" {
				authHeader := r.Header.Get("Authorization")
				tokenParts := strings.Split(authHeader, " ")
				if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
					http.Error(w, "Authorization header required", http.StatusUnauthorized)
					return
				}

				sub, err := apitoken.Subject(secret, tokenParts[1])
				if err != nil {
					logger.Info("rejected token", slog.Any("err", err))
					http.Error(w, "Invalid token", http.StatusUnauthorized)
					return
				}
				if businessID != "" && sub != "" && businessID != sub {
					http.Error(w, "business does not match token", http.StatusForbidden)
					return
				}
				if sub != "" {
					businessID = sub
				}
			}

			ctx := context.WithValue(r.Context(), businessIDKey, businessID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

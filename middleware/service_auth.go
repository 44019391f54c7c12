package middleware

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"readStreakAPI/internal/logger"
)

const ServiceKey contextKey = "service"

// ScopeViewsWrite lets a service push view events.
const ScopeViewsWrite = "views:write"

// ServiceClaims are carried by tokens minted for internal callers such as the
// content service.
type ServiceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// ServiceAuth accepts HS256 tokens signed with signingKey that carry scope.
func ServiceAuth(signingKey, scope string, log *logger.Logger) func(http.Handler) http.Handler {
	key := []byte(signingKey)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Authorization header required. Use 'Bearer <token>'")
				return
			}

			claims := &ServiceClaims{}
			_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil {
				log.Warn("service token rejected", "error", err)
				respondWithError(w, http.StatusUnauthorized, "Invalid service token")
				return
			}
			if claims.Subject == "" {
				respondWithError(w, http.StatusUnauthorized, "Invalid service token")
				return
			}
			if claims.Scope != scope {
				respondWithError(w, http.StatusForbidden, "Missing scope "+scope)
				return
			}

			ctx := context.WithValue(r.Context(), ServiceKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetService returns the calling service's name set by ServiceAuth.
func GetService(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(ServiceKey).(string)
	return name, ok && name != ""
}

package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/socialchef/beacon/internal/config"
	"github.com/socialchef/beacon/internal/observe"
)

// Identity tags the request scope with the user of a valid HS256 bearer
// token. Requests without a usable token pass through untouched.
func Identity(cfg *config.Config, hub *observe.Hub) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.JWTSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := userFromHeader(r.Header.Get("Authorization"), cfg.JWTSecret)
			if err != nil {
				hub.AddBreadcrumb(r.Context(), observe.Breadcrumb{
					Type:     "default",
					Category: "auth",
					Message:  "Ignoring bearer token: " + err.Error(),
					Level:    observe.LevelWarning,
				})
			} else if user != nil {
				hub.SetUser(r.Context(), user)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// userFromHeader returns nil, nil when no bearer token is present.
func userFromHeader(header, secret string) (*observe.User, error) {
	if header == "" {
		return nil, nil
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, fmt.Errorf("missing sub claim")
	}

	user := &observe.User{ID: userID}
	user.Email, _ = claims["email"].(string)
	user.Username, _ = claims["name"].(string)
	return user, nil
}

package middleware

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// UserIDKey carries the authenticated user's id through request context.
const UserIDKey contextKey = "userID"

const apiKeyCacheTTL = 5 * time.Minute

// Auth resolves users and operators. The redis client is optional; without
// it every request hits the database.
type Auth struct {
	db          *sql.DB
	redis       *redis.Client
	adminSecret string
}

func NewAuth(db *sql.DB, redisClient *redis.Client, adminSecret string) *Auth {
	return &Auth{db: db, redis: redisClient, adminSecret: adminSecret}
}

// UserAuth authenticates end users by exact X-Api-Key match, caching the
// key→user mapping briefly so hot users skip the database.
func (a *Auth) UserAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Api-Key")
		if apiKey == "" {
			http.Error(w, "X-Api-Key header required", http.StatusUnauthorized)
			return
		}

		userID, err := a.resolveAPIKey(r.Context(), apiKey)
		if err != nil {
			http.Error(w, "Invalid API key", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) resolveAPIKey(ctx context.Context, apiKey string) (int, error) {
	cacheKey := "apikey:" + apiKey

	if a.redis != nil {
		if cached, err := a.redis.Get(ctx, cacheKey).Result(); err == nil {
			if userID, convErr := strconv.Atoi(cached); convErr == nil {
				return userID, nil
			}
		}
	}

	var userID int
	if err := a.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE api_key = $1`, apiKey).Scan(&userID); err != nil {
		return 0, err
	}

	if a.redis != nil {
		if err := a.redis.Set(ctx, cacheKey, strconv.Itoa(userID), apiKeyCacheTTL).Err(); err != nil {
			log.Printf("[AUTH] api key cache write failed: %v", err)
		}
	}
	return userID, nil
}

// AdminAuth authenticates the operator channel with a bearer JWT whose
// claims carry role=admin.
func (a *Auth) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(a.adminSecret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			http.Error(w, "Operator access required", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// UserID pulls the authenticated user id out of the request context.
func UserID(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(UserIDKey).(int)
	return userID, ok
}

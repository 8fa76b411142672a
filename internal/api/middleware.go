package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RoleAdmin is the only role the API recognises.
const RoleAdmin = "admin"

// Claims are the JWT claims carried by admin tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs information about each request
func LoggingMiddleware(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"duration":   time.Since(start),
				"request_id": RequestID(r.Context()),
			}).Info("request processed")
		})
	}
}

// JSONContentTypeMiddleware ensures that requests with a body declare JSON.
func JSONContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
				respondError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
					"Content-Type must be application/json", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorMiddleware turns panics into 500 responses.
func ErrorMiddleware(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(logrus.Fields{
						"panic":      rec,
						"request_id": RequestID(r.Context()),
					}).Error("panic while serving request")
					respondError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// AdminMiddleware admits requests bearing a valid HS256 token with the admin role.
func AdminMiddleware(key []byte, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "authorization header missing", nil)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token format", nil)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims,
				func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
					}
					return key, nil
				})
			if err != nil {
				var validationErr *jwt.ValidationError
				if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
					respondError(w, http.StatusUnauthorized, "token_expired", "token expired", nil)
					return
				}
				log.WithError(err).Debug("rejected admin token")
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
				return
			}
			if !token.Valid || claims.Role != RoleAdmin {
				respondError(w, http.StatusForbidden, "forbidden", "admin role required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GenerateAdminToken signs an admin token valid for ttl.
func GenerateAdminToken(key []byte, subject string, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", errors.New("JWT signing key not available")
	}
	now := time.Now()
	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func GenerateJWTKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "failed to generate JWT key")
	}
	return key, nil
}

func jwtKeyPath(dir string) string {
	return filepath.Join(dir, RoleAdmin, "jwt_key")
}

func SaveJWTKey(dir string, key []byte) error {
	path := jwtKeyPath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create directory for JWT key")
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return errors.Wrap(err, "failed to save JWT key")
	}
	return nil
}

func LoadJWTKey(dir string) ([]byte, error) {
	encoded, err := os.ReadFile(jwtKeyPath(dir))
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode JWT key")
	}
	return key, nil
}

// EnsureJWTKey loads the admin signing key, creating it on first use. The key is kept
// across restarts so issued tokens stay valid.
func EnsureJWTKey(dir string) ([]byte, error) {
	key, err := LoadJWTKey(dir)
	if err == nil {
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	if key, err = GenerateJWTKey(); err != nil {
		return nil, err
	}
	if err := SaveJWTKey(dir, key); err != nil {
		return nil, err
	}
	return key, nil
}

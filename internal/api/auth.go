package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthorized = errors.New("missing or invalid bearer token")

// tokenIssuer signs HS256 tokens carrying the user id.
type tokenIssuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func newTokenIssuer(secret string, lifetime time.Duration) *tokenIssuer {
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	return &tokenIssuer{secret: []byte(secret), lifetime: lifetime, now: time.Now}
}

func (t *tokenIssuer) Issue(userID int64) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.lifetime)
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (t *tokenIssuer) Parse(raw string) (int64, error) {
	token, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return 0, errUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errUnauthorized
	}
	// numeric claims decode as float64
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return 0, errUnauthorized
	}
	return int64(id), nil
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int64)

func (s *Server) requireUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeErr(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		userID, err := s.auth.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeErr(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r, userID)
	})
}

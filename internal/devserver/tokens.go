package devserver

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken — токен некорректен по формату/подписи или неизвестен.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked — refresh-токен отозван (logout или ротация).
	ErrTokenRevoked = errors.New("token revoked")
)

const issuer = "schedscan-devserver"

type accessClaims struct {
	jwt.RegisteredClaims
}

// refreshRecord — хранится только хэш refresh-токена.
type refreshRecord struct {
	UserID    int64
	ExpiresAt time.Time
	Revoked   bool
}

// generateAccessToken выпускает подписанный HS256 access-токен.
// jti делает токены уникальными даже в пределах одной секунды.
func (s *Server) generateAccessToken(userID int64, now time.Time) (string, error) {
	const op = "devserver.generateAccessToken"

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.AccessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken возвращает id пользователя из валидного access-токена.
func (s *Server) validateAccessToken(tokenStr string) (int64, error) {
	const op = "devserver.validateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(*jwt.Token) (interface{}, error) {
			return []byte(s.opts.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.opts.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return uid, nil
}

// generateRefreshToken создаёт непрозрачный refresh-токен и сохраняет его хэш.
// Вызывается под s.mu.
func (s *Server) generateRefreshToken(userID int64, now time.Time) (string, error) {
	const op = "devserver.generateRefreshToken"

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	plain := base64.RawURLEncoding.EncodeToString(b)

	s.refresh[hashToken(plain)] = &refreshRecord{
		UserID:    userID,
		ExpiresAt: now.Add(s.opts.RefreshTTL),
	}

	return plain, nil
}

// lookupRefresh находит активную запись refresh-токена. Вызывается под s.mu.
func (s *Server) lookupRefresh(plain string, now time.Time) (*refreshRecord, error) {
	rec, ok := s.refresh[hashToken(plain)]
	switch {
	case !ok:
		return nil, ErrInvalidToken
	case rec.Revoked:
		return nil, ErrTokenRevoked
	case !now.Before(rec.ExpiresAt):
		return nil, ErrTokenExpired
	}

	return rec, nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func writeTokenInvalid(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"detail": detail,
		"code":   "token_not_valid",
	})
}

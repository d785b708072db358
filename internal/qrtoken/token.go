// Package qrtoken issues and verifies the signed capability tokens embedded
// in access QR codes. A token binds an athlete to an academy for a fixed
// validity window; single-use enforcement lives in the session store, not here.
package qrtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds signing parameters for QR tokens.
type Config struct {
	Secret string
	TTL    time.Duration
}

// Claims is the decoded payload of a QR token.
type Claims struct {
	AthleteID string
	AcademyID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ErrInvalid is returned for malformed or tampered tokens.
var ErrInvalid = errors.New("invalid qr token")

// ErrExpired is returned when the token signature is valid but its window has passed.
var ErrExpired = errors.New("expired qr token")

// Issue signs a token for the athlete/academy pair, valid from now for cfg.TTL.
func Issue(cfg Config, athleteID, academyID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(cfg.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"atleta_id":   athleteID,
		"academia_id": academyID,
		"iat":         now.Unix(),
		"exp":         expiresAt.Unix(),
	})

	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign qr token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of a presented token.
func Verify(cfg Config, token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}

	athleteID, _ := claims["atleta_id"].(string)
	academyID, _ := claims["academia_id"].(string)
	if athleteID == "" || academyID == "" {
		return nil, ErrInvalid
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrInvalid
	}
	iat, _ := claims.GetIssuedAt()

	out := &Claims{
		AthleteID: athleteID,
		AcademyID: academyID,
		ExpiresAt: exp.Time,
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

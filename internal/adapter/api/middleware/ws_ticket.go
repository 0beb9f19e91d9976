package middleware

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"habita/pkg/errors"
)

// TicketManager issues and verifies short-lived, single-purpose tokens for
// websocket upgrades. Browsers cannot set an Authorization header on a
// socket handshake, so the client first trades its ID token for a ticket
// and passes that as a query parameter.
type TicketManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTicketManager(secret string, ttl time.Duration) *TicketManager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TicketManager{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

type ticketClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

func (t *TicketManager) Issue(uid string) (string, error) {
	now := time.Now()
	claims := ticketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Purpose: "ws",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", errors.Internal("Failed to issue ticket", err)
	}
	return signed, nil
}

func (t *TicketManager) Verify(ticket string) (string, error) {
	var claims ticketClaims
	token, err := jwt.ParseWithClaims(ticket, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("Unexpected signing method", nil)
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Unauthorized("Invalid or expired ticket", err)
	}
	if claims.Purpose != "ws" || claims.Subject == "" {
		return "", errors.Unauthorized("Invalid or expired ticket", nil)
	}

	return claims.Subject, nil
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	handoffCookieKey = "handoff"
	handoffTTL       = 12 * time.Hour

	emailClaim = "email"
	roomClaim  = "room"
	expClaim   = "exp"
)

var ErrNoHandoff = errors.New("no handoff")

// Handoff carries the entry form's values to the chat page. It travels as
// a signed cookie scoped to /chat.
type Handoff struct {
	Identity types.Identity
	Room     types.Room
}

func (a *RoomChatApp) createHandoffToken(h Handoff, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		emailClaim: h.Identity.Email,
		roomClaim:  h.Room.Name,
		expClaim:   time.Now().Add(exp).Unix(),
	})

	return token.SignedString(a.signingKey)
}

func (a *RoomChatApp) verifyHandoffToken(tokenString string) (Handoff, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return Handoff{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return Handoff{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Handoff{}, fmt.Errorf("invalid token claims")
	}

	email, _ := claims[emailClaim].(string)
	room, _ := claims[roomClaim].(string)
	if email == "" || room == "" {
		return Handoff{}, fmt.Errorf("%w: incomplete claims", ErrNoHandoff)
	}

	return Handoff{
		Identity: types.Identity{Email: email},
		Room:     types.Room{Name: room},
	}, nil
}

// handoffFromRequest returns the handoff carried by r. ErrNoHandoff is
// returned, possibly wrapped, when there is none.
func (a *RoomChatApp) handoffFromRequest(r *http.Request) (Handoff, error) {
	cookie, err := r.Cookie(handoffCookieKey)
	if err != nil {
		return Handoff{}, ErrNoHandoff
	}

	h, err := a.verifyHandoffToken(cookie.Value)
	if err != nil {
		return Handoff{}, fmt.Errorf("%w: %w", ErrNoHandoff, err)
	}

	return h, nil
}

func createHandoffCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     handoffCookieKey,
		Value:    tokenString,
		Path:     "/chat",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

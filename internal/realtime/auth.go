package realtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies bearer tokens presented on CONNECT frames and
// decides which destinations a session may subscribe to.
type Authenticator struct {
	JWTSecret string

	// RequireSubscribeAuth hard-rejects SUBSCRIBE frames from sessions
	// that never authenticated. When false the subscribe is only logged
	// and ignored, so an unauthenticated session stays connected but
	// receives nothing on user destinations.
	RequireSubscribeAuth bool
}

// Authenticate extracts and verifies the bearer token from an
// authorization header value, returning the authenticated user ID.
func (a Authenticator) Authenticate(authz string) (string, error) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("authorization header must carry a bearer token")
	}
	if strings.TrimSpace(a.JWTSecret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		return []byte(a.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// UserDestination is where one user's notification pushes land.
func UserDestination(userID string) string {
	return "/user/" + userID + "/notifications"
}

// BroadcastDestination is open to every connected session.
const BroadcastDestination = "/topic/broadcast"

// userFromDestination returns the owner of a /user/{id}/notifications
// destination, or "" when dest is not a user destination.
func userFromDestination(dest string) string {
	rest, ok := strings.CutPrefix(dest, "/user/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/notifications")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// AuthorizeSubscribe decides whether a session authenticated as userID
// (empty when unauthenticated) may subscribe to dest.
func (a Authenticator) AuthorizeSubscribe(userID, dest string) error {
	if strings.HasPrefix(dest, "/topic/") {
		return nil
	}
	owner := userFromDestination(dest)
	if owner == "" {
		return fmt.Errorf("unknown destination %q", dest)
	}
	if userID == "" {
		return errUnauthenticated
	}
	if userID != owner {
		return fmt.Errorf("destination %q belongs to another user", dest)
	}
	return nil
}

var errUnauthenticated = errors.New("session is not authenticated")

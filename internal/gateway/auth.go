package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/soyeahso/daogate/internal/config"
)

// Auth modes.
const (
	AuthModeNone     = "none"
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth is the gateway's effective auth configuration.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth picks the auth mode. An empty mode means password when a
// password is set and token otherwise.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{
		Mode:     strings.ToLower(strings.TrimSpace(cfg.Mode)),
		Token:    cfg.Token,
		Password: cfg.Password,
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = AuthModePassword
		} else {
			auth.Mode = AuthModeToken
		}
	}
	return auth
}

// Authorize checks client credentials against the server's auth.
func Authorize(server ResolvedAuth, client *ConnectAuth) AuthResult {
	if server.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	switch server.Mode {
	case AuthModeToken:
		if server.Token == "" {
			return AuthResult{Reason: "server token not configured"}
		}
		if client.Token == "" {
			return AuthResult{Reason: "token required"}
		}
		if !safeEqual(client.Token, server.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModeToken}

	case AuthModePassword:
		if server.Password == "" {
			return AuthResult{Reason: "server password not configured"}
		}
		if client.Password == "" {
			return AuthResult{Reason: "password required"}
		}
		if !safeEqual(client.Password, server.Password) {
			return AuthResult{Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModePassword}

	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
}

// AuthorizeHTTP reads an "Authorization: Bearer <secret>" header and checks
// it as a token or password depending on the mode.
func AuthorizeHTTP(server ResolvedAuth, r *http.Request) AuthResult {
	secret, ok := bearerToken(r)
	if !ok {
		return Authorize(server, nil)
	}
	return Authorize(server, &ConnectAuth{Token: secret, Password: secret})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// safeEqual compares in constant time, including the length check.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

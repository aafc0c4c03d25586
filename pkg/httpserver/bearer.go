// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	BearerPrefix = "Bearer "

	// DefaultSessionTimeout bounds how long an issued session token
	// stays valid before the client must log in again.
	DefaultSessionTimeout = 12 * time.Hour

	// AdministratorRole marks sessions allowed to purge and to flip the
	// server status.
	AdministratorRole = "administrator"
)

// BearerMD are the claims carried by a session token. The session id
// must still resolve against the replicated session store, so a token
// revoked by logout is rejected everywhere even before it expires.
type BearerMD struct {
	SessionID            string   `json:"sid"`
	Username             string   `json:"username"`
	Roles                []string `json:"roles,omitempty"`
	jwt.RegisteredClaims          // v5 new
}

func (t *BearerMD) Administrator() bool {
	for _, role := range t.Roles {
		if role == AdministratorRole {
			return true
		}
	}
	return false
}

// GenerateSessionToken signs a session as an HS256 bearer token.
func GenerateSessionToken(secret []byte, session *model.Session, roles []string) (string, error) {
	claims := BearerMD{
		SessionID: session.ID,
		Username:  session.Username,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt), // expiresAt
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt), // issued
			NotBefore: jwt.NewNumericDate(session.CreatedAt), // not before
		},
	}
	// HS256
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func (s *Server) parseSessionToken(w http.ResponseWriter, r *http.Request, bearerToken string) (*BearerMD, error) {
	var claims *BearerMD
	_, err := jwt.ParseWithClaims(bearerToken, &BearerMD{}, func(token *jwt.Token) (any, error) {
		var ok bool
		if claims, ok = token.Claims.(*BearerMD); !ok {
			return nil, jwt.ErrTokenMalformed
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			renderFailureFormat(w, r, http.StatusBadRequest, "malformed token: %s", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			renderFailureFormat(w, r, http.StatusForbidden, "invalid token: %s", err)
		case errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet):
			renderFailureFormat(w, r, http.StatusForbidden, "expired token: %s", err)
		default:
			renderFailureFormat(w, r, http.StatusForbidden, "parse token error: %s", err)
		}
		return nil, err
	}
	if _, ok := s.state.Session(claims.SessionID, time.Now()); !ok {
		err := model.NewErrForbidden("session %s is expired or revoked", claims.SessionID)
		renderFailure(w, r, http.StatusForbidden, err.Error())
		return nil, err
	}
	return claims, nil
}

func parseBearerToken(auth string) (string, bool) {
	if len(auth) < len(BearerPrefix) || !EqualFold(auth[:len(BearerPrefix)], BearerPrefix) {
		return "", false
	}
	return auth[len(BearerPrefix):], true
}

func EqualFold(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if lower(s[i]) != lower(t[i]) {
			return false
		}
	}
	return true
}

// lower returns the ASCII lowercase version of b.
func lower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// authenticate resolves the caller's identity. With no secret configured
// the server runs open and every caller is the anonymous administrator;
// otherwise a valid bearer session token is required.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*BearerMD, bool) {
	if len(s.secret) == 0 {
		return &BearerMD{Username: "anonymous", Roles: []string{AdministratorRole}}, true
	}
	token, ok := parseBearerToken(r.Header.Get("Authorization"))
	if !ok {
		renderFailure(w, r, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	claims, err := s.parseSessionToken(w, r, token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func (md *BearerMD) author() model.Author {
	return model.Author{Name: md.Username, Email: md.Username + "@localhost"}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"accessToken"`
	SessionID   string    `json:"sessionId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Login checks the shared secret and issues a session. The session rides
// the command log so that every replica honors, and can revoke, the
// token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if len(s.secret) == 0 {
		renderFailure(w, r, http.StatusBadRequest, "authentication is not enabled")
		return
	}
	var req loginRequest
	if err := s.decodeBody(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	if req.Username == "" {
		renderFailure(w, r, http.StatusBadRequest, "username is required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), s.secret) != 1 {
		renderFailure(w, r, http.StatusUnauthorized, "bad credentials")
		return
	}
	now := time.Now()
	session := model.Session{
		ID:        uuid.NewString(),
		Username:  req.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultSessionTimeout),
	}
	author := model.Author{Name: req.Username, Email: req.Username + "@localhost"}
	if _, err := s.exec.Execute(r.Context(), command.NewCreateSession(author, now, session)); err != nil {
		renderError(w, r, err)
		return
	}
	roles := s.rolesOf(req.Username)
	token, err := GenerateSessionToken(s.secret, &session, roles)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, &loginResponse{AccessToken: token, SessionID: session.ID, ExpiresAt: session.ExpiresAt})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if md.SessionID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	cmd := command.NewRemoveSession(md.author(), time.Now(), md.SessionID)
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

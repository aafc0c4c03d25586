// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// replicaAudience scopes forwarded-command tokens so a stolen session
// token cannot hit the internal surface.
const replicaAudience = "vega-replica"

// ExecuteCommand is the internal endpoint follower replicas forward
// mutations to. The leader runs the command through its own executor and
// returns the result envelope.
func (s *Server) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	if !s.authenticateReplica(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	cmd, err := command.Unmarshal(body)
	if err != nil {
		renderError(w, r, model.NewErrInvalidRequest("malformed command envelope: %v", err))
		return
	}
	result, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, result)
}

func (s *Server) authenticateReplica(w http.ResponseWriter, r *http.Request) bool {
	if len(s.secret) == 0 {
		return true
	}
	token, ok := parseBearerToken(r.Header.Get("Authorization"))
	if !ok {
		renderFailure(w, r, http.StatusUnauthorized, "missing replica token")
		return false
	}
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithAudience(replicaAudience))
	if err != nil {
		renderFailureFormat(w, r, http.StatusForbidden, "invalid replica token: %v", err)
		return false
	}
	return true
}

func replicaToken(secret []byte, replicaID string) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   replicaID,
		Audience:  jwt.ClaimStrings{replicaAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	})
	return t.SignedString(secret)
}

// Forwarder delivers commands from a follower to the leader's internal
// endpoint over HTTP.
type Forwarder struct {
	client    *http.Client
	secret    []byte
	replicaID string
}

func NewForwarder(replicaID, authSecret string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		client:    &http.Client{Timeout: timeout},
		secret:    []byte(authSecret),
		replicaID: replicaID,
	}
}

func (f *Forwarder) Forward(ctx context.Context, leaderURL string, cmd *command.Command) (json.RawMessage, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", leaderURL+"/internal/v1/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", JSON_MIME)
	if len(f.secret) != 0 {
		token, err := replicaToken(f.secret, f.replicaID)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", BearerPrefix+token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, model.NewErrReplicationUnavailable("forward %s to %s: %v", cmd.Type, leaderURL, err)
	}
	defer resp.Body.Close() // nolint: errcheck
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewErrReplicationUnavailable("forward %s to %s: %v", cmd.Type, leaderURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, forwardedError(resp.StatusCode, payload)
	}
	return json.RawMessage(payload), nil
}

// forwardedError rebuilds a typed error from the leader's wire response
// so the follower surfaces the same kind to its own client.
func forwardedError(status int, payload []byte) error {
	var ec ErrorCode
	if err := json.Unmarshal(payload, &ec); err != nil || ec.Message == "" {
		logrus.Debugf("forward: undecodable error payload, status %d", status)
		ec.Message = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return model.NewErrNotFound("resource", "%s", ec.Message)
	case http.StatusConflict:
		return model.NewErrChangeConflict("%s", ec.Message)
	case http.StatusBadRequest:
		return model.NewErrInvalidRequest("%s", ec.Message)
	case http.StatusForbidden, http.StatusUnauthorized:
		return model.NewErrForbidden("%s", ec.Message)
	case http.StatusTooManyRequests:
		return model.NewErrQuotaExceeded("%s", ec.Message)
	default:
		return model.NewErrReplicationUnavailable("leader responded %d: %s", status, ec.Message)
	}
}

// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antgroup/vega/pkg/model"
)

// envelope is the wire shape. Timestamps travel as unix milliseconds so
// every replica reconstructs the same instant regardless of zone.
type envelope struct {
	Type           Type            `json:"type"`
	Timestamp      int64           `json:"timestampMillis"`
	Author         model.Author    `json:"author"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Project        string          `json:"project,omitempty"`
	Repo           string          `json:"repository,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func (c *Command) MarshalJSON() ([]byte, error) {
	e := envelope{
		Type:           c.Type,
		Timestamp:      c.Timestamp.UnixMilli(),
		Author:         c.Author,
		IdempotencyKey: c.IdempotencyKey,
		Project:        c.Project,
		Repo:           c.Repo,
	}
	if c.Payload != nil {
		b, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, err
		}
		e.Payload = b
	}
	return json.Marshal(&e)
}

func (c *Command) UnmarshalJSON(b []byte) error {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return err
	}
	payload, err := payloadFor(e.Type)
	if err != nil {
		return err
	}
	if payload != nil {
		if len(e.Payload) == 0 {
			return fmt.Errorf("command %s: missing payload", e.Type)
		}
		if err := json.Unmarshal(e.Payload, payload); err != nil {
			return fmt.Errorf("command %s: %w", e.Type, err)
		}
	}
	*c = Command{
		Type:           e.Type,
		Timestamp:      time.UnixMilli(e.Timestamp).UTC(),
		Author:         e.Author,
		IdempotencyKey: e.IdempotencyKey,
		Project:        e.Project,
		Repo:           e.Repo,
		Payload:        payload,
	}
	return nil
}

// payloadFor allocates the payload struct a type decodes into. Types
// whose envelope alone says everything return nil.
func payloadFor(t Type) (any, error) {
	switch t {
	case TypeCreateProject, TypeRemoveProject, TypeUnremoveProject, TypePurgeProject,
		TypeCreateRepository, TypeRemoveRepository, TypeUnremoveRepository, TypePurgeRepository:
		return nil, nil
	case TypeNormalizeRevision:
		return &NormalizeRevision{}, nil
	case TypePush:
		return &Push{}, nil
	case TypeTransform:
		return &Transform{}, nil
	case TypeCreateSession:
		return &CreateSession{}, nil
	case TypeRemoveSession:
		return &RemoveSession{}, nil
	case TypeUpdateServerStatus:
		return &UpdateServerStatus{}, nil
	}
	return nil, fmt.Errorf("unknown command type: %q", t)
}

// Unmarshal decodes one command envelope.
func Unmarshal(b []byte) (*Command, error) {
	c := &Command{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"encoding/json"
	"strings"
)

type ChangeType int8

const (
	ChangeInvalid ChangeType = iota
	ChangeUpsertJSON
	ChangeUpsertText
	ChangeRemove
	ChangeRename
	ChangeApplyJSONPatch
	ChangeApplyTextPatch
)

func (t ChangeType) String() string {
	switch t {
	case ChangeUpsertJSON:
		return "UPSERT_JSON"
	case ChangeUpsertText:
		return "UPSERT_TEXT"
	case ChangeRemove:
		return "REMOVE"
	case ChangeRename:
		return "RENAME"
	case ChangeApplyJSONPatch:
		return "APPLY_JSON_PATCH"
	case ChangeApplyTextPatch:
		return "APPLY_TEXT_PATCH"
	}
	return "INVALID"
}

func ChangeTypeFromString(s string) ChangeType {
	switch strings.ToUpper(s) {
	case "UPSERT_JSON":
		return ChangeUpsertJSON
	case "UPSERT_TEXT":
		return ChangeUpsertText
	case "REMOVE":
		return ChangeRemove
	case "RENAME":
		return ChangeRename
	case "APPLY_JSON_PATCH":
		return ChangeApplyJSONPatch
	case "APPLY_TEXT_PATCH":
		return ChangeApplyTextPatch
	}
	return ChangeInvalid
}

func (t ChangeType) MarshalJSON() ([]byte, error) {
	return []byte("\"" + t.String() + "\""), nil
}

func (t *ChangeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ChangeTypeFromString(s)
	return nil
}

// Change is one typed instruction against one path. Content depends on
// the type:
//
//	UPSERT_JSON       the JSON document
//	UPSERT_TEXT       the text, as a JSON string
//	REMOVE            absent
//	RENAME            the new path, as a JSON string
//	APPLY_JSON_PATCH  a JSON Patch (RFC 6902) array
//	APPLY_TEXT_PATCH  the textual patch, as a JSON string
type Change struct {
	Type    ChangeType      `json:"type"`
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content,omitempty"`
}

// TextContent decodes Content as a JSON string for the change types that
// carry text, a rename target or a textual patch.
func (c *Change) TextContent() (string, error) {
	var s string
	if err := json.Unmarshal(c.Content, &s); err != nil {
		return "", NewErrInvalidRequest("change %s %s: content must be a string", c.Type, c.Path)
	}
	return s, nil
}

func UpsertJSON(path string, content json.RawMessage) Change {
	return Change{Type: ChangeUpsertJSON, Path: path, Content: content}
}

func UpsertText(path, text string) Change {
	return Change{Type: ChangeUpsertText, Path: path, Content: marshalString(text)}
}

func Remove(path string) Change {
	return Change{Type: ChangeRemove, Path: path}
}

func Rename(path, newPath string) Change {
	return Change{Type: ChangeRename, Path: path, Content: marshalString(newPath)}
}

func ApplyJSONPatch(path string, patch json.RawMessage) Change {
	return Change{Type: ChangeApplyJSONPatch, Path: path, Content: patch}
}

func ApplyTextPatch(path, patch string) Change {
	return Change{Type: ChangeApplyTextPatch, Path: path, Content: marshalString(patch)}
}

func marshalString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

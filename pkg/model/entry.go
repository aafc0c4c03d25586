// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EntryType int8

const (
	EntryInvalid EntryType = iota
	EntryJSON
	EntryYAML
	EntryText
	EntryDirectory
)

func (t EntryType) String() string {
	switch t {
	case EntryJSON:
		return "JSON"
	case EntryYAML:
		return "YAML"
	case EntryText:
		return "TEXT"
	case EntryDirectory:
		return "DIRECTORY"
	}
	return "INVALID"
}

func EntryTypeFromString(s string) EntryType {
	switch strings.ToUpper(s) {
	case "JSON":
		return EntryJSON
	case "YAML":
		return EntryYAML
	case "TEXT":
		return EntryText
	case "DIRECTORY":
		return EntryDirectory
	}
	return EntryInvalid
}

func (t EntryType) MarshalJSON() ([]byte, error) {
	return []byte("\"" + t.String() + "\""), nil
}

func (t *EntryType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = EntryTypeFromString(s)
	return nil
}

// EntryTypeFromPath derives the entry type of a file path from its
// extension: .json is JSON, .yml and .yaml are YAML, everything else is
// plain text.
func EntryTypeFromPath(path string) EntryType {
	switch {
	case strings.HasSuffix(path, ".json"):
		return EntryJSON
	case strings.HasSuffix(path, ".yml"), strings.HasSuffix(path, ".yaml"):
		return EntryYAML
	default:
		return EntryText
	}
}

// Entry is a materialized file or directory at a revision. Content holds
// the exact stored bytes: canonical JSON for JSON entries, normalized
// text otherwise, and nothing for directories.
type Entry struct {
	Path     string    `json:"path"`
	Type     EntryType `json:"type"`
	Content  string    `json:"-"`
	Revision Revision  `json:"revision,omitempty"`
	// LastModifiedRevision is the newest revision that touched this path,
	// filled only when the caller asked for it.
	LastModifiedRevision Revision `json:"lastModifiedRevision,omitempty"`
}

func (e *Entry) HasContent() bool {
	return e.Type != EntryDirectory && e.Content != ""
}

// MarshalJSON renders JSON entries with their parsed content so clients
// receive a document, not a doubly encoded string.
func (e *Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	var content any
	if e.HasContent() {
		if e.Type == EntryJSON {
			content = json.RawMessage(e.Content)
		} else {
			content = e.Content
		}
	}
	return json.Marshal(&struct {
		*alias
		Content any `json:"content,omitempty"`
	}{alias: (*alias)(e), Content: content})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	type alias Entry
	aux := &struct {
		*alias
		Content json.RawMessage `json:"content,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, aux); err != nil {
		return err
	}
	if len(aux.Content) == 0 {
		return nil
	}
	if e.Type == EntryJSON {
		e.Content = string(aux.Content)
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.Content, &s); err != nil {
		return fmt.Errorf("entry %s: content must be a string: %w", e.Path, err)
	}
	e.Content = s
	return nil
}

// MergedEntry is the result of merging JSON files at a revision.
type MergedEntry struct {
	Revision Revision        `json:"revision"`
	Paths    []string        `json:"paths"`
	Type     EntryType       `json:"type"`
	Content  json.RawMessage `json:"content"`
}

// MergeSource names one input of a merge. Optional sources may be absent
// without failing the merge.
type MergeSource struct {
	Path     string `json:"path"`
	Optional bool   `json:"optional,omitempty"`
}

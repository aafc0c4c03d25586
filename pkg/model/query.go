// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"encoding/json"
	"strings"
)

type QueryType int8

const (
	QueryInvalid QueryType = iota
	// QueryIdentity fetches the entry as stored.
	QueryIdentity
	// QueryJSONPath evaluates JSON path expressions against a JSON or
	// YAML entry, each expression fed the result of the previous one.
	QueryJSONPath
)

func (t QueryType) String() string {
	switch t {
	case QueryIdentity:
		return "IDENTITY"
	case QueryJSONPath:
		return "JSON_PATH"
	}
	return "INVALID"
}

func QueryTypeFromString(s string) QueryType {
	switch strings.ToUpper(s) {
	case "IDENTITY":
		return QueryIdentity
	case "JSON_PATH":
		return QueryJSONPath
	}
	return QueryInvalid
}

func (t QueryType) MarshalJSON() ([]byte, error) {
	return []byte("\"" + t.String() + "\""), nil
}

func (t *QueryType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = QueryTypeFromString(s)
	return nil
}

// Query selects one entry and optionally transforms its content.
type Query struct {
	Type        QueryType `json:"type"`
	Path        string    `json:"path"`
	Expressions []string  `json:"expressions,omitempty"`
}

func Identity(path string) Query {
	return Query{Type: QueryIdentity, Path: path}
}

func JSONPath(path string, expressions ...string) Query {
	return Query{Type: QueryJSONPath, Path: path, Expressions: expressions}
}

// Validate rejects queries that can never evaluate: JSON path against a
// path that cannot hold structured content, or no expressions at all.
func (q *Query) Validate() error {
	if q.Type == QueryIdentity {
		return nil
	}
	if q.Type != QueryJSONPath {
		return NewErrInvalidRequest("unsupported query type")
	}
	if len(q.Expressions) == 0 {
		return NewErrInvalidRequest("JSON path query on %s needs at least one expression", q.Path)
	}
	if t := EntryTypeFromPath(q.Path); t != EntryJSON && t != EntryYAML {
		return NewErrQueryFailure("JSON path cannot be evaluated against %s", q.Path)
	}
	return nil
}

// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antgroup/vega/pkg/model"
	"gopkg.in/yaml.v3"
)

// Stored content is canonical so that equal documents always produce
// equal blobs, and with them equal trees and commit hashes on every
// replica: JSON is re-encoded with sorted keys and no insignificant
// whitespace, text ends in exactly one newline.

// decodeJSON parses a document preserving number literals exactly.
func decodeJSON(content []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON document")
	}
	return v, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalJSON(content []byte) ([]byte, error) {
	v, err := decodeJSON(content)
	if err != nil {
		return nil, err
	}
	return encodeJSON(v)
}

// normalizeText folds CRLF to LF and ends non-empty content in exactly
// one newline. Empty stays empty, so an empty file keeps the blank blob
// identity.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if s == "" {
		return s
	}
	return strings.TrimRight(s, "\n") + "\n"
}

// sanitizeContent returns the stored form of text content destined for
// path, validating that structured files actually parse.
func sanitizeContent(path, text string) (string, error) {
	switch model.EntryTypeFromPath(path) {
	case model.EntryJSON:
		b, err := canonicalJSON([]byte(text))
		if err != nil {
			return "", model.NewErrInvalidRequest("%s: not valid JSON: %v", path, err)
		}
		return string(b), nil
	case model.EntryYAML:
		var v any
		if err := yaml.Unmarshal([]byte(text), &v); err != nil {
			return "", model.NewErrInvalidRequest("%s: not valid YAML: %v", path, err)
		}
		return normalizeText(text), nil
	default:
		return normalizeText(text), nil
	}
}

// kindOf names the JSON node kind of a decoded value, the vocabulary
// merge conflicts are reported in.
func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "OBJECT"
	case []any:
		return "ARRAY"
	case json.Number, int, int64, float64:
		return "NUMBER"
	case string:
		return "STRING"
	case bool:
		return "BOOLEAN"
	case nil:
		return "NULL"
	}
	return "UNKNOWN"
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escapePointerToken(token string) string {
	return pointerEscaper.Replace(token)
}

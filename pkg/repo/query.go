// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"strings"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"gopkg.in/yaml.v3"
)

// Get fetches the single entry a query names and, for JSON path
// queries, reduces its document through each expression in turn. The
// result of a JSON path query is always a JSON entry, whatever the
// source markup was.
func (r *Repository) Get(ctx context.Context, rev model.Revision, q model.Query) (*model.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !plumbing.ValidateFilePath(q.Path) {
		return nil, model.NewErrInvalidRequest("invalid path: %s", q.Path)
	}
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	root, err := r.treeAt(ctx, abs)
	if err != nil {
		return nil, err
	}
	e, err := root.FindEntry(ctx, strings.TrimPrefix(q.Path, "/"))
	if err != nil {
		if object.IsErrEntryNotFound(err) || object.IsErrDirectoryNotFound(err) {
			return nil, model.NewErrNotFound("entry", "%s at revision %d", q.Path, abs)
		}
		return nil, err
	}
	if e.IsDir() {
		return nil, model.NewErrNotFound("entry", "%s is a directory", q.Path)
	}
	content, err := r.blobBytes(ctx, e.Hash)
	if err != nil {
		return nil, err
	}
	entry := &model.Entry{
		Path:     q.Path,
		Type:     model.EntryTypeFromPath(q.Path),
		Revision: abs,
		Content:  string(content),
	}
	if q.Type == model.QueryIdentity {
		return entry, nil
	}
	return evalJSONPath(entry, q.Expressions)
}

// evalJSONPath runs expressions over the entry's document, each one
// consuming the previous result. One match unwraps to the value,
// several collect into an array, none fails the query.
func evalJSONPath(entry *model.Entry, expressions []string) (*model.Entry, error) {
	doc, err := queryDocument(entry)
	if err != nil {
		return nil, err
	}
	for _, expr := range expressions {
		x, err := jp.ParseString(expr)
		if err != nil {
			return nil, model.NewErrQueryFailure("invalid JSON path %q: %v", expr, err)
		}
		results := x.Get(doc)
		switch len(results) {
		case 0:
			return nil, model.NewErrQueryFailure("JSON path %q matched nothing in %s", expr, entry.Path)
		case 1:
			doc = results[0]
		default:
			doc = results
		}
	}
	out, err := encodeJSON(doc)
	if err != nil {
		return nil, model.NewErrQueryFailure("cannot encode query result for %s: %v", entry.Path, err)
	}
	return &model.Entry{
		Path:     entry.Path,
		Type:     model.EntryJSON,
		Revision: entry.Revision,
		Content:  string(out),
	}, nil
}

// queryDocument decodes the entry into the value tree expressions
// navigate. YAML is folded into JSON-shaped values first.
func queryDocument(entry *model.Entry) (any, error) {
	switch entry.Type {
	case model.EntryJSON:
		v, err := oj.ParseString(entry.Content)
		if err != nil {
			return nil, model.NewErrQueryFailure("%s: %v", entry.Path, err)
		}
		return v, nil
	case model.EntryYAML:
		var v any
		if err := yaml.Unmarshal([]byte(entry.Content), &v); err != nil {
			return nil, model.NewErrQueryFailure("%s: %v", entry.Path, err)
		}
		folded, err := foldYAML(v)
		if err != nil {
			return nil, model.NewErrQueryFailure("%s: %v", entry.Path, err)
		}
		return folded, nil
	}
	return nil, model.NewErrQueryFailure("%s does not hold a queryable document", entry.Path)
}

// foldYAML rewrites yaml.v3 values into the map[string]any / []any
// shape JSON tooling expects. Mappings with non-string keys have no
// JSON counterpart and fail.
func foldYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			folded, err := foldYAML(e)
			if err != nil {
				return nil, err
			}
			t[k] = folded
		}
		return t, nil
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			s, ok := k.(string)
			if !ok {
				return nil, model.NewErrQueryFailure("mapping key %v is not a string", k)
			}
			folded, err := foldYAML(e)
			if err != nil {
				return nil, err
			}
			m[s] = folded
		}
		return m, nil
	case []any:
		for i, e := range t {
			folded, err := foldYAML(e)
			if err != nil {
				return nil, err
			}
			t[i] = folded
		}
		return t, nil
	}
	return v, nil
}

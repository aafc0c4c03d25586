// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"strings"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
)

// MergeFiles overlays the JSON documents named by sources, in order,
// into one document and optionally reduces it with JSON path
// expressions. Objects merge key by key, scalars and arrays from a
// later source replace earlier ones, and an explicit null deletes the
// key. Sources must agree on node kinds; a clash aborts the merge
// naming the offending JSON pointer.
func (r *Repository) MergeFiles(ctx context.Context, rev model.Revision, sources []model.MergeSource, expressions []string) (*model.MergedEntry, error) {
	if len(sources) == 0 {
		return nil, model.NewErrInvalidRequest("no paths to merge")
	}
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	root, err := r.treeAt(ctx, abs)
	if err != nil {
		return nil, err
	}
	var merged any
	first := true
	paths := make([]string, 0, len(sources))
	for _, src := range sources {
		if !plumbing.ValidateFilePath(src.Path) {
			return nil, model.NewErrInvalidRequest("invalid path: %s", src.Path)
		}
		if model.EntryTypeFromPath(src.Path) != model.EntryJSON {
			return nil, model.NewErrQueryFailure("%s: only JSON files can be merged", src.Path)
		}
		e, err := root.FindEntry(ctx, strings.TrimPrefix(src.Path, "/"))
		if err != nil {
			if object.IsErrEntryNotFound(err) || object.IsErrDirectoryNotFound(err) {
				if src.Optional {
					continue
				}
				return nil, model.NewErrNotFound("entry", "%s at revision %d", src.Path, abs)
			}
			return nil, err
		}
		content, err := r.blobBytes(ctx, e.Hash)
		if err != nil {
			return nil, err
		}
		doc, err := decodeJSON(content)
		if err != nil {
			return nil, model.NewErrQueryFailure("%s: %v", src.Path, err)
		}
		if first {
			merged = doc
			first = false
		} else if merged, err = mergeNodes(merged, doc, ""); err != nil {
			return nil, err
		}
		paths = append(paths, src.Path)
	}
	if first {
		return nil, model.NewErrNotFound("entry", "none of the merge sources exist at revision %d", abs)
	}
	if len(expressions) > 0 {
		entry := &model.Entry{Path: paths[len(paths)-1], Type: model.EntryJSON, Revision: abs}
		content, err := encodeJSON(merged)
		if err != nil {
			return nil, err
		}
		entry.Content = string(content)
		if entry, err = evalJSONPath(entry, expressions); err != nil {
			return nil, err
		}
		return &model.MergedEntry{
			Revision: abs,
			Paths:    paths,
			Type:     model.EntryJSON,
			Content:  []byte(entry.Content),
		}, nil
	}
	content, err := encodeJSON(merged)
	if err != nil {
		return nil, err
	}
	return &model.MergedEntry{
		Revision: abs,
		Paths:    paths,
		Type:     model.EntryJSON,
		Content:  content,
	}, nil
}

// mergeNodes merges overlay into base at the tree position pointer
// names. Only object pairs merge recursively; any other pair must
// share a kind, and the overlay value wins.
func mergeNodes(base, overlay any, pointer string) (any, error) {
	bm, baseIsObject := base.(map[string]any)
	om, overlayIsObject := overlay.(map[string]any)
	if baseIsObject && overlayIsObject {
		for k, ov := range om {
			child := pointer + "/" + escapePointerToken(k)
			bv, exists := bm[k]
			if !exists {
				if ov != nil {
					bm[k] = ov
				}
				continue
			}
			if ov == nil {
				// a null overlay removes the key
				delete(bm, k)
				continue
			}
			merged, err := mergeNodes(bv, ov, child)
			if err != nil {
				return nil, err
			}
			bm[k] = merged
		}
		return bm, nil
	}
	if base == nil {
		return overlay, nil
	}
	if expected, actual := kindOf(base), kindOf(overlay); expected != actual {
		if pointer == "" {
			pointer = "/"
		}
		return nil, model.NewErrMergeConflict(pointer, expected, actual)
	}
	return overlay, nil
}

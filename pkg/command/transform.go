// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Func deterministically rewrites one file. It receives the content
// current at apply time plus the argument document baked into the
// command, and returns the replacement content. Funcs must be pure:
// the log replays them on every replica and again at startup, and each
// evaluation has to produce the same bytes.
type Func func(current []byte, argument json.RawMessage) ([]byte, error)

var (
	transformMu    sync.RWMutex
	transformFuncs = make(map[string]Func)
)

// RegisterTransform makes fn addressable from Transform commands under
// name. Registration happens at process start, before any command is
// applied; re-registering a name panics so a typo cannot silently shadow
// a transform.
func RegisterTransform(name string, fn Func) {
	transformMu.Lock()
	defer transformMu.Unlock()
	if _, ok := transformFuncs[name]; ok {
		panic(fmt.Sprintf("transform %q registered twice", name))
	}
	transformFuncs[name] = fn
}

// LookupTransform resolves a registered transform function.
func LookupTransform(name string) (Func, error) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	fn, ok := transformFuncs[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform: %q", name)
	}
	return fn, nil
}

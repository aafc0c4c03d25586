// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Revision addresses a commit in a repository's linear history. Positive
// values are absolute. Zero and negative values are relative to the head
// at evaluation time: 0 and -1 both mean head, -2 the commit before head.
// The storage layer normalizes to absolute before any read.
type Revision int64

const (
	// Head addresses the latest revision of a repository.
	Head Revision = -1
	// Init addresses the first revision, present in every repository.
	Init Revision = 1
)

// Relative reports whether the revision needs the current head to resolve.
func (r Revision) Relative() bool {
	return r <= 0
}

func (r Revision) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// ParseRevision accepts a decimal integer or the keyword "head". The empty
// string resolves to head, matching an omitted ?revision= parameter.
func ParseRevision(s string) (Revision, error) {
	if s == "" || strings.EqualFold(s, "head") {
		return Head, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, NewErrInvalidRequest("invalid revision: %q", s)
	}
	return Revision(n), nil
}

func (r Revision) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(r), 10)), nil
}

func (r *Revision) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := ParseRevision(s)
		if err != nil {
			return err
		}
		*r = v
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = Revision(n)
	return nil
}

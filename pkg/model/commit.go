// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"time"

	"github.com/antgroup/vega/modules/vega/object"
)

// Markup tells renderers how to display a commit message detail.
type Markup = object.Markup

const (
	MarkupPlaintext = object.MarkupPlaintext
	MarkupMarkdown  = object.MarkupMarkdown
)

type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SystemAuthor signs commits the service creates on its own, such as the
// init commit of a new repository.
var SystemAuthor = Author{Name: "System", Email: "system@vega.io"}

func (a Author) Signature(when time.Time) object.Signature {
	return object.Signature{Name: a.Name, Email: a.Email, When: when.In(time.UTC)}
}

type CommitMessage struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
	Markup  Markup `json:"markup,omitempty"`
}

// Commit is the read-side view of one accepted revision.
type Commit struct {
	Revision      Revision      `json:"revision"`
	Author        Author        `json:"author"`
	PushedAt      time.Time     `json:"pushedAt"`
	CommitMessage CommitMessage `json:"commitMessage"`
}

// PushResult acknowledges an accepted push.
type PushResult struct {
	Revision Revision  `json:"revision"`
	PushedAt time.Time `json:"pushedAt"`
}

// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/streamio"
)

var (
	COMMIT_MAGIC = [4]byte{'V', 'C', 0x00, 0x01}
)

// Markup declares how a commit message is rendered.
type Markup string

const (
	MarkupPlaintext Markup = "plaintext"
	MarkupMarkdown  Markup = "markdown"
)

func NewMarkup(s string) Markup {
	if strings.EqualFold(s, string(MarkupMarkdown)) {
		return MarkupMarkdown
	}
	return MarkupPlaintext
}

// Signature identifies the author of a commit at millisecond
// precision. Times are normalized to UTC so the encoded form is
// byte-stable across replicas.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// String formats a Signature the way the commit body stores it:
//
//	Jane Doe <jane@example.com> 1724577600000
func (s *Signature) String() string {
	return fmt.Sprintf("%s <%s> %d", s.Name, s.Email, s.When.UnixMilli())
}

// Decode parses "name <email> unix-ms" into s.
func (s *Signature) Decode(b []byte) {
	open := bytes.LastIndexByte(b, '<')
	close := bytes.LastIndexByte(b, '>')
	if open == -1 || close == -1 || close < open {
		return
	}

	s.Name = string(bytes.Trim(b[:open], " "))
	s.Email = string(b[open+1 : close])

	if close+2 >= len(b) {
		return
	}
	ms, err := strconv.ParseInt(string(bytes.TrimSpace(b[close+2:])), 10, 64)
	if err != nil {
		return
	}
	s.When = time.UnixMilli(ms).In(time.UTC)
}

// Commit ties a revision number to a root tree, its parent and the
// change description that produced it.
type Commit struct {
	Hash     plumbing.Hash   `json:"hash"`
	Revision int64           `json:"revision"`
	Author   Signature       `json:"author"`
	Parents  []plumbing.Hash `json:"parents"`
	Tree     plumbing.Hash   `json:"tree"`
	Summary  string          `json:"summary"`
	Detail   string          `json:"detail,omitempty"`
	Markup   Markup          `json:"markup"`
	b        Backend
}

func (c *Commit) Encode(w io.Writer) error {
	_, err := w.Write(COMMIT_MAGIC[:])
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(w, "tree %s\n", c.Tree.String()); err != nil {
		return err
	}

	for _, parent := range c.Parents {
		if _, err = fmt.Fprintf(w, "parent %s\n", parent.String()); err != nil {
			return err
		}
	}

	if _, err = fmt.Fprintf(w, "revision %d\nauthor %s\nmarkup %s\n", c.Revision, c.Author.String(), c.Markup); err != nil {
		return err
	}

	if _, err = fmt.Fprintf(w, "\n%s\n", c.Summary); err != nil {
		return err
	}
	if len(c.Detail) != 0 {
		if _, err = fmt.Fprintf(w, "\n%s", c.Detail); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commit) Decode(reader Reader) error {
	if reader.Type() != CommitObject {
		return ErrUnsupportedObject
	}
	c.Hash = reader.Hash()
	r := streamio.GetBufioReader(reader)
	defer streamio.PutBufioReader(r)

	var message strings.Builder
	var finishedHeaders bool
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		text := strings.TrimSuffix(line, "\n")
		if len(text) == 0 && !finishedHeaders {
			finishedHeaders = true
			continue
		}
		if fields := strings.Split(text, " "); !finishedHeaders {
			if len(fields) < 2 {
				continue
			}
			switch fields[0] {
			case "tree":
				if len(fields) != 2 {
					return fmt.Errorf("error parsing tree: %s", text)
				}
				c.Tree = plumbing.NewHash(fields[1])
			case "parent":
				if len(fields) != 2 {
					return fmt.Errorf("error parsing parent: %s", text)
				}
				c.Parents = append(c.Parents, plumbing.NewHash(fields[1]))
			case "revision":
				rev, err := strconv.ParseInt(fields[1], 10, 64)
				if err != nil {
					return fmt.Errorf("error parsing revision: %s", text)
				}
				c.Revision = rev
			case "author":
				c.Author.Decode([]byte(text[7:]))
			case "markup":
				c.Markup = NewMarkup(fields[1])
			}
		} else {
			_, _ = message.WriteString(line)
		}
		if readErr == io.EOF {
			break
		}
	}
	c.Summary, c.Detail = splitMessage(message.String())
	return nil
}

// splitMessage cuts an encoded message section back into summary and
// detail: the first line is the summary, everything past the following
// blank line is the detail.
func splitMessage(message string) (string, string) {
	summary, rest, found := strings.Cut(message, "\n")
	if !found {
		return message, ""
	}
	return summary, strings.TrimPrefix(rest, "\n")
}

// Root returns the Tree from the commit.
func (c *Commit) Root(ctx context.Context) (*Tree, error) {
	return resolveTree(ctx, c.b, c.Tree)
}

// Parent returns the commit this one extends, or nil for revision 1.
func (c *Commit) Parent(ctx context.Context) (*Commit, error) {
	if len(c.Parents) == 0 {
		return nil, nil
	}
	if c.b == nil {
		return nil, plumbing.NoSuchObject(c.Parents[0])
	}
	return c.b.Commit(ctx, c.Parents[0])
}

func (c *Commit) String() string {
	return fmt.Sprintf("%s %s r%d %s", CommitObject, c.Hash, c.Revision, c.Summary)
}

// CommitIter walks a linear history tip-first.
type CommitIter struct {
	b    Backend
	next plumbing.Hash
}

func NewCommitIter(b Backend, start plumbing.Hash) *CommitIter {
	return &CommitIter{b: b, next: start}
}

// Next returns the next commit, or io.EOF past revision 1.
func (iter *CommitIter) Next(ctx context.Context) (*Commit, error) {
	if iter.next.IsZero() {
		return nil, io.EOF
	}
	cc, err := iter.b.Commit(ctx, iter.next)
	if err != nil {
		return nil, err
	}
	if len(cc.Parents) == 0 {
		iter.next = plumbing.ZeroHash
	} else {
		iter.next = cc.Parents[0]
	}
	return cc, nil
}

// ForEach applies fn tip-first until history is exhausted, fn returns
// plumbing.ErrStop, or an error occurs.
func (iter *CommitIter) ForEach(ctx context.Context, fn func(*Commit) error) error {
	for {
		cc, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err = fn(cc); err == plumbing.ErrStop {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/repo"
)

type Doctor struct {
	DataDir string `short:"D" name:"data-dir" help:"Root directory of the persisted state" required:""`
}

// Run walks every repository under the data directory and reads every
// entry of every revision, so a truncated or missing object surfaces as
// an error instead of a 500 at serving time. The store is opened read
// only; run it against a stopped replica or a snapshot.
func (c *Doctor) Run(g *Globals) error {
	ctx := context.Background()
	root := filepath.Join(c.DataDir, "projects")
	projects, err := os.ReadDir(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", root, err)
		return err
	}
	var broken int
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(root, p.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "read project %s: %v\n", p.Name(), err)
			broken++
			continue
		}
		for _, rd := range repos {
			if !rd.IsDir() {
				continue
			}
			if err := c.checkRepo(ctx, p.Name(), rd.Name(), filepath.Join(root, p.Name(), rd.Name())); err != nil {
				broken++
			}
		}
	}
	if broken != 0 {
		return fmt.Errorf("%d repositories reported errors", broken)
	}
	fmt.Fprintln(os.Stdout, "all repositories are healthy")
	return nil
}

func (c *Doctor) checkRepo(ctx context.Context, project, name, dir string) error {
	r, err := repo.Open(project, name, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s/%s: open: %v\n", project, name, err)
		return err
	}
	defer r.Close() // nolint: errcheck
	head := r.Head()
	var entries int
	for rev := model.Init; rev <= head; rev++ {
		found, err := r.Find(ctx, rev, "/**", &repo.FindOptions{FetchContent: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s/%s: revision %d: %v\n", project, name, rev, err)
			return err
		}
		entries += len(found)
	}
	fmt.Fprintf(os.Stdout, "%s/%s: %d revisions, %d entries read\n", project, name, head, entries)
	return nil
}

// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/antgroup/vega/pkg/serve/argon2id"
)

type Keygen struct {
	Bytes int  `name:"bytes" short:"b" help:"Entropy of the generated secret in bytes" default:"32"`
	Hash  bool `name:"hash" help:"Additionally print the argon2id hash of the secret"`
}

// Run prints a random secret suitable for the authSecret option. With
// --hash it also prints the argon2id digest, for deployments that store
// a verifier instead of the secret itself.
func (c *Keygen) Run(g *Globals) error {
	if c.Bytes < 16 {
		c.Bytes = 32
	}
	raw := make([]byte, c.Bytes)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "generate secret error: %v\n", err)
		return err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	fmt.Fprintln(os.Stdout, secret)
	if c.Hash {
		h, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash secret error: %v\n", err)
			return err
		}
		fmt.Fprintln(os.Stdout, h)
	}
	return nil
}

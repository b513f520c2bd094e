// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dropcode provides the building blocks for one-time access codes:
// the Batch record that binds a code to uploaded content, a collision-resistant
// code generator, and the error taxonomy shared by the redemption service.
//
// A code is an opaque, fixed-length alphanumeric identifier. A holder presents
// it exactly once in exchange for the content of its Batch; after that the code
// is permanently void. The packages under internal/redemption build the durable
// store, aggregation, and delivery machinery on top of these primitives.
package dropcode

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Alphabet is the default code alphabet: upper- and lowercase ASCII letters
// plus digits (62 symbols). A 6-character code drawn from it has ~35.7 bits of
// entropy, far beyond expected batch volumes; uniqueness is still enforced by
// the store, never assumed from entropy alone.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultLength is the default number of characters in a generated code.
const DefaultLength = 6

// GeneratorOptions configures Generator construction.
type GeneratorOptions struct {
	// Length sets the code length. 0 uses DefaultLength.
	Length int

	// Alphabet sets the symbol set. Empty uses Alphabet. Must have at most
	// 256 symbols.
	Alphabet string

	// Reader is the entropy source. Nil uses crypto/rand.Reader. Tests may
	// substitute a deterministic reader.
	Reader io.Reader
}

// Generator produces fixed-length opaque codes from a fixed alphabet.
// It is safe for concurrent use as long as its Reader is (crypto/rand is).
type Generator struct {
	length   int
	alphabet string
	reader   io.Reader
}

// NewGenerator creates a Generator with default length and alphabet.
func NewGenerator() *Generator {
	return NewGeneratorWithOptions(GeneratorOptions{})
}

// NewGeneratorWithOptions creates a Generator with explicit options.
func NewGeneratorWithOptions(opts GeneratorOptions) *Generator {
	g := &Generator{
		length:   opts.Length,
		alphabet: opts.Alphabet,
		reader:   opts.Reader,
	}
	if g.length <= 0 {
		g.length = DefaultLength
	}
	if g.alphabet == "" {
		g.alphabet = Alphabet
	}
	if g.reader == nil {
		g.reader = rand.Reader
	}
	return g
}

// Generate returns a fresh code. The draw is uniform over the alphabet:
// candidate bytes outside the largest multiple of len(alphabet) are rejected
// so the modulo introduces no bias.
func (g *Generator) Generate() (string, error) {
	n := len(g.alphabet)
	// Largest multiple of n that fits in a byte; bytes at or above it are redrawn.
	limit := 256 - (256 % n)
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.reader, buf[:g.length-len(out)]); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf[:g.length-len(out)] {
			if int(b) >= limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%n])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}

// Length returns the configured code length.
func (g *Generator) Length() int { return g.length }

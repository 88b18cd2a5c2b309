// Package source defines source units and positions shared by every
// compilation stage. Units are immutable after load; recompiling a path
// produces a fresh unit with a fresh content hash.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Unit is one logical source input, identified by a stable path and a
// content hash over the raw text.
type Unit struct {
	Path string
	Text string
	Hash string
}

// NewUnit builds a unit from path and text. The hash is the lowercase hex
// SHA-256 of the text, which is also the artifact cache key component.
func NewUnit(path, text string) *Unit {
	sum := sha256.Sum256([]byte(text))
	return &Unit{
		Path: path,
		Text: text,
		Hash: hex.EncodeToString(sum[:]),
	}
}

// Lines splits the unit text into lines without allocation surprises.
// Line numbering throughout the compiler is 1-based.
func (u *Unit) Lines() []string {
	return strings.Split(u.Text, "\n")
}

// Line returns the 1-based line, or "" when out of range.
func (u *Unit) Line(n int) string {
	lines := u.Lines()
	if n < 1 || n > len(lines) {
		return ""
	}
	return lines[n-1]
}

// Package ids generates prefixed, time-encoded opaque identifiers.
//
// An id looks like "sess_20250114t093042z_k3jd8a2mfh4q". The timestamp
// prefix keeps ids sortable by creation time; the random suffix keeps
// them unique.
package ids

import (
	"crypto/rand"
	"strings"
	"time"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// New returns a fresh id with the given prefix.
func New(prefix string) string {
	raw := make([]byte, 10)
	_, _ = rand.Read(raw)
	return prefix + timestamp() + "_" + base32Encode(raw)
}

// NewRun returns a run id.
func NewRun() string { return New("run_") }

// NewStep returns a plan-step id.
func NewStep() string { return New("step_") }

// NewSession returns a session id.
func NewSession() string { return New("sess_") }

// NewMessage returns a message id.
func NewMessage() string { return New("msg_") }

// NewTurn returns a turn id.
func NewTurn() string { return New("turn_") }

// NewToolCall returns a tool-call id.
func NewToolCall() string { return New("call_") }

// NewAttachment returns an attachment id.
func NewAttachment() string { return New("att_") }

func timestamp() string {
	return time.Now().UTC().Format("20060102t150405") + "z"
}

func base32Encode(data []byte) string {
	var out strings.Builder
	var value uint
	bits := 0
	for _, b := range data {
		value = value<<8 | uint(b)
		bits += 8
		for bits >= 5 {
			out.WriteByte(alphabet[(value>>(uint(bits)-5))&31])
			bits -= 5
		}
	}
	if bits > 0 {
		out.WriteByte(alphabet[(value<<(5-uint(bits)))&31])
	}
	return out.String()
}

// Package uid implements the kernel's 64-bit content-addressed UID:
// a high word (node-assignment epoch) and a low word (per-node serial),
// whose low 20 bits double as the network-hint index used by
// DIR_$FIND_NET.
package uid

import (
	"fmt"
	"strconv"
	"strings"
)

// UID identifies a file, directory, process, or ACL.
type UID struct {
	High uint32
	Low  uint32
}

// Nil is the distinguished all-zero sentinel UID.
var Nil = UID{}

// hintIndexMask selects the low 20 bits of the low word.
const hintIndexMask = 0xFFFFF

// New builds a UID from its two words.
func New(high, low uint32) UID {
	return UID{High: high, Low: low}
}

// FromUint64 builds a UID from a packed 64-bit value, high word first.
func FromUint64(v uint64) UID {
	return UID{High: uint32(v >> 32), Low: uint32(v)}
}

// Uint64 packs the UID into a single 64-bit value, high word first.
func (u UID) Uint64() uint64 {
	return uint64(u.High)<<32 | uint64(u.Low)
}

// IsNil reports whether u is the all-zero sentinel.
func (u UID) IsNil() bool {
	return u.High == 0 && u.Low == 0
}

// HintIndex returns the low 20 bits of the low word, used to bucket
// this UID in DIR_$FIND_NET's hint tables.
func (u UID) HintIndex() uint32 {
	return u.Low & hintIndexMask
}

// String renders the UID in the conventional "high.low" hex form.
func (u UID) String() string {
	return fmt.Sprintf("%08x.%08x", u.High, u.Low)
}

// Parse reverses String, accepting "high.low" hex pairs.
func Parse(s string) (UID, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Nil, fmt.Errorf("uid: malformed %q: want \"high.low\"", s)
	}
	high, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return Nil, fmt.Errorf("uid: bad high word in %q: %w", s, err)
	}
	low, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return Nil, fmt.Errorf("uid: bad low word in %q: %w", s, err)
	}
	return UID{High: uint32(high), Low: uint32(low)}, nil
}

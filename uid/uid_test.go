package uid_test

import (
	"testing"

	"github.com/m-lab/domain-kernel/uid"
)

func TestNilIsZero(t *testing.T) {
	if !uid.Nil.IsNil() {
		t.Error("Nil should report IsNil")
	}
	if uid.New(1, 0).IsNil() {
		t.Error("non-zero high word should not be nil")
	}
}

func TestHintIndex(t *testing.T) {
	u := uid.New(0xAABBCCDD, 0xFFF12345)
	want := uint32(0xFFF12345) & 0xFFFFF
	if got := u.HintIndex(); got != want {
		t.Errorf("HintIndex() = %#x, want %#x", got, want)
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	u := uid.New(0x1, 0xDEADBEEF)
	s := u.String()
	got, err := uid.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", s, err)
	}
	if got != u {
		t.Errorf("round trip = %+v, want %+v", got, u)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := uid.Parse("notauid"); err == nil {
		t.Error("expected error for malformed uid")
	}
}

func TestUint64RoundTrip(t *testing.T) {
	u := uid.New(0x11223344, 0x55667788)
	if got := uid.FromUint64(u.Uint64()); got != u {
		t.Errorf("Uint64 round trip = %+v, want %+v", got, u)
	}
}

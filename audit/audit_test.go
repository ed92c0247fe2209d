package audit_test

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/domain-kernel/audit"
	"github.com/m-lab/domain-kernel/uid"
)

// memWriter is an in-memory io.WriteCloser standing in for the
// external zstd process during tests.
type memWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

func TestEmitWritesLengthPrefixedGobFrame(t *testing.T) {
	var writer *memWriter
	newWriter := func(name string) (io.WriteCloser, error) {
		writer = &memWriter{}
		return writer, nil
	}
	p := audit.NewPipelineWithWriter(1, time.Hour, func(time.Time) string { return "audit.zst" }, newWriter)

	rec := audit.Record{
		CorrelationID: "host_1_1",
		Timestamp:     time.Unix(0, 0),
		DirUID:        uid.New(2, 2),
		Opcode:        0x2A,
		OpcodeName:    "ADD",
		Status:        0,
		HintIndex:     0,
		FirstHint:     true,
	}
	if err := p.Emit(rec); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	p.Close()

	data := writer.bytes()
	size, n := binary.Uvarint(data)
	if n <= 0 {
		t.Fatalf("could not read varint frame size from %v", data)
	}
	var got audit.Record
	if err := gob.NewDecoder(bytes.NewReader(data[n : n+int(size)])).Decode(&got); err != nil {
		t.Fatalf("gob decode: %v", err)
	}
	if got.DirUID != rec.DirUID || got.OpcodeName != rec.OpcodeName {
		t.Fatalf("decoded record mismatch: got %+v, want %+v", got, rec)
	}
	if !writer.closed {
		t.Fatal("expected writer to be closed after Pipeline.Close")
	}
}

func TestRotationOpensNewWriterAfterInterval(t *testing.T) {
	var names []string
	var writers []*memWriter
	newWriter := func(name string) (io.WriteCloser, error) {
		names = append(names, name)
		w := &memWriter{}
		writers = append(writers, w)
		return w, nil
	}
	filenames := []string{"a.zst", "b.zst"}
	i := 0
	p := audit.NewPipelineWithWriter(1, time.Millisecond, func(time.Time) string {
		name := filenames[i%len(filenames)]
		i++
		return name
	}, newWriter)

	if err := p.Emit(audit.Record{Timestamp: time.Unix(0, 0)}); err != nil {
		t.Fatalf("Emit 1: %v", err)
	}
	if err := p.Emit(audit.Record{Timestamp: time.Unix(0, 0).Add(10 * time.Millisecond)}); err != nil {
		t.Fatalf("Emit 2: %v", err)
	}
	p.Close()

	if len(names) != 2 {
		t.Fatalf("expected rotation to open 2 writers, got %v", names)
	}
}

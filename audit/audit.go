// Package audit implements the directory dispatcher's audit trail: a
// bounded channel of records fed by DIR_$DO_OP, drained by a small
// pool of marshaller goroutines that gob-encode each record and write
// it as a length-prefixed frame to a zstd-piped rotating file — the
// same producer/marshaller-pool/rotation shape saver.Saver uses for
// connection records, adapted from per-connection state to per-request
// audit records.
package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/m-lab/domain-kernel/uid"
	"github.com/m-lab/domain-kernel/zstd"
)

// Record is one locally-handled DIR operation, emitted after
// DIR_$DO_OP's local dispatch step when auditing is enabled.
type Record struct {
	CorrelationID string
	Timestamp     time.Time
	DirUID        uid.UID
	Opcode        byte
	OpcodeName    string
	Status        uint32
	HintIndex     int
	FirstHint     bool
}

// Task is a single marshalling unit: nil Record closes Writer,
// mirroring saver.Task's "nil message means close the writer."
type Task struct {
	Record *Record
	Writer io.WriteCloser
}

// MarshalChan is a channel of marshalling tasks.
type MarshalChan chan<- Task

func runMarshaller(taskChan <-chan Task, wg *sync.WaitGroup) {
	for task := range taskChan {
		if task.Record == nil {
			task.Writer.Close()
			continue
		}
		if task.Writer == nil {
			log.Println("audit: nil writer for record", task.Record.DirUID)
			continue
		}
		var body bytes.Buffer
		if err := gob.NewEncoder(&body).Encode(task.Record); err != nil {
			log.Println("audit: gob encode:", err)
			continue
		}
		var size [9]byte
		n := binary.PutUvarint(size[:], uint64(body.Len()))
		if _, err := task.Writer.Write(size[:n]); err != nil {
			log.Println("audit: write size:", err)
			continue
		}
		if _, err := task.Writer.Write(body.Bytes()); err != nil {
			log.Println("audit: write record:", err)
		}
	}
	log.Println("audit: marshaller done")
	wg.Done()
}

// NewMarshaller starts one marshaller goroutine and returns its task
// channel.
func NewMarshaller(wg *sync.WaitGroup) MarshalChan {
	ch := make(chan Task, 100)
	wg.Add(1)
	go runMarshaller(ch, wg)
	return ch
}

// Pipeline owns a pool of marshaller channels and the rotating
// writer each record's task is queued against.
type Pipeline struct {
	mu           sync.Mutex
	chans        []MarshalChan
	wg           *sync.WaitGroup
	writer       io.WriteCloser
	rotatedAt    time.Time
	rotateEvery  time.Duration
	filenameFunc func(time.Time) string
	newWriter    func(string) (io.WriteCloser, error)
	next         int
}

// NewPipeline starts numMarshallers goroutines writing rotated,
// zstd-piped files named by filenameFunc, rotated no more often than
// rotateEvery.
func NewPipeline(numMarshallers int, rotateEvery time.Duration, filenameFunc func(time.Time) string) *Pipeline {
	return NewPipelineWithWriter(numMarshallers, rotateEvery, filenameFunc, zstd.NewWriter)
}

// NewPipelineWithWriter is NewPipeline with the writer factory
// injected, so tests can substitute an in-memory writer for the
// external zstd process.
func NewPipelineWithWriter(numMarshallers int, rotateEvery time.Duration, filenameFunc func(time.Time) string, newWriter func(string) (io.WriteCloser, error)) *Pipeline {
	wg := &sync.WaitGroup{}
	chans := make([]MarshalChan, 0, numMarshallers)
	for i := 0; i < numMarshallers; i++ {
		chans = append(chans, NewMarshaller(wg))
	}
	return &Pipeline{chans: chans, wg: wg, rotateEvery: rotateEvery, filenameFunc: filenameFunc, newWriter: newWriter}
}

func (p *Pipeline) currentWriter(now time.Time) (io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil && now.Sub(p.rotatedAt) < p.rotateEvery {
		return p.writer, nil
	}
	if p.writer != nil {
		q := p.chans[p.next%len(p.chans)]
		q <- Task{Writer: p.writer}
	}
	w, err := p.newWriter(p.filenameFunc(now))
	if err != nil {
		return nil, fmt.Errorf("audit: rotate writer: %w", err)
	}
	p.writer = w
	p.rotatedAt = now
	return w, nil
}

// Emit queues r to the next marshaller in round-robin order, rotating
// the output writer first if it is due.
func (p *Pipeline) Emit(r Record) error {
	w, err := p.currentWriter(r.Timestamp)
	if err != nil {
		return err
	}
	p.mu.Lock()
	q := p.chans[p.next%len(p.chans)]
	p.next++
	p.mu.Unlock()
	q <- Task{Record: &r, Writer: w}
	return nil
}

// Close rotates out the final writer and shuts down every marshaller,
// waiting for all pending writes to finish.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.writer != nil {
		q := p.chans[p.next%len(p.chans)]
		q <- Task{Writer: p.writer}
		p.writer = nil
	}
	p.mu.Unlock()
	for _, ch := range p.chans {
		close(ch)
	}
	p.wg.Wait()
}

// Package netbuf implements the kernel's fixed-size page pool: header
// pages (up to 952 bytes, metadata plus small payload) and data pages
// (1 KiB, payload beyond the header limit). Both pools have fixed
// capacity so the system cannot deadlock under maximum concurrent
// send/receive — callers that find the pool exhausted wait on its
// event count rather than allocating unboundedly.
//
// There is no third-party bounded-pool library in this module's
// dependency set with the fixed-capacity, event-count-gated contract
// this needs (sync.Pool neither bounds capacity nor blocks); this is
// one of the few places the implementation is deliberately stdlib-only
// — see DESIGN.md.
package netbuf

import (
	"fmt"
	"sync"

	"github.com/m-lab/domain-kernel/ec"
)

// HeaderSize is the maximum size of a header page, in bytes.
const HeaderSize = 952

// DataSize is the size of a single data page, in bytes.
const DataSize = 1024

// MaxDataPages is the largest number of data pages a single payload
// may span (4 KiB total).
const MaxDataPages = 4

// PageAddr is an opaque handle to a pool page. The zero value never
// refers to a valid page.
type PageAddr uint32

type page struct {
	buf    []byte
	mapped bool
}

// Pool is a fixed-capacity pool of header pages and data pages.
type Pool struct {
	hmu     sync.Mutex
	headers []page
	hfree   []PageAddr
	hEC     *ec.EC

	dmu   sync.Mutex
	datas []page
	dfree []PageAddr
	dEC   *ec.EC
}

// NewPool allocates a pool with the given number of header and data
// pages.
func NewPool(headerCount, dataCount int) *Pool {
	p := &Pool{
		headers: make([]page, headerCount),
		datas:   make([]page, dataCount),
		hEC:     ec.New(),
		dEC:     ec.New(),
	}
	for i := range p.headers {
		p.headers[i].buf = make([]byte, HeaderSize)
		p.hfree = append(p.hfree, PageAddr(i+1))
	}
	for i := range p.datas {
		p.datas[i].buf = make([]byte, DataSize)
		p.dfree = append(p.dfree, PageAddr(i+1))
	}
	return p
}

// HeaderEC is signalled every time a header page is returned to the
// pool; callers that found GetHdr exhausted should wait on it.
func (p *Pool) HeaderEC() *ec.EC { return p.hEC }

// DataEC is signalled every time a data page is returned to the pool.
func (p *Pool) DataEC() *ec.EC { return p.dEC }

// GetHdr acquires a header page. It never blocks: ok is false when the
// pool is exhausted, and the caller is responsible for waiting on
// HeaderEC() before retrying.
func (p *Pool) GetHdr() (addr PageAddr, va []byte, ok bool) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	if len(p.hfree) == 0 {
		return 0, nil, false
	}
	n := len(p.hfree) - 1
	addr = p.hfree[n]
	p.hfree = p.hfree[:n]
	pg := &p.headers[addr-1]
	for i := range pg.buf {
		pg.buf[i] = 0
	}
	pg.mapped = true
	return addr, pg.buf, true
}

// RtnHdr returns a header page to the pool.
func (p *Pool) RtnHdr(addr PageAddr) {
	p.hmu.Lock()
	if addr == 0 || int(addr) > len(p.headers) {
		p.hmu.Unlock()
		panic(fmt.Sprintf("netbuf: RtnHdr of invalid page %d", addr))
	}
	p.headers[addr-1].mapped = false
	p.hfree = append(p.hfree, addr)
	p.hmu.Unlock()
	p.hEC.Advance()
}

// GetDat acquires a data page, analogous to GetHdr.
func (p *Pool) GetDat() (addr PageAddr, ok bool) {
	p.dmu.Lock()
	defer p.dmu.Unlock()
	if len(p.dfree) == 0 {
		return 0, false
	}
	n := len(p.dfree) - 1
	addr = p.dfree[n]
	p.dfree = p.dfree[:n]
	return addr, true
}

// RtnDat returns a data page to the pool.
func (p *Pool) RtnDat(addr PageAddr) {
	p.dmu.Lock()
	if addr == 0 || int(addr) > len(p.datas) {
		p.dmu.Unlock()
		panic(fmt.Sprintf("netbuf: RtnDat of invalid page %d", addr))
	}
	p.datas[addr-1].mapped = false
	p.dfree = append(p.dfree, addr)
	p.dmu.Unlock()
	p.dEC.Advance()
}

// GetVA attaches a virtual mapping to a data page and returns its
// backing bytes. Calling GetVA twice on the same page without an
// intervening RtnVA is a usage error.
func (p *Pool) GetVA(addr PageAddr) ([]byte, error) {
	p.dmu.Lock()
	defer p.dmu.Unlock()
	if addr == 0 || int(addr) > len(p.datas) {
		return nil, fmt.Errorf("netbuf: GetVA of invalid page %d", addr)
	}
	pg := &p.datas[addr-1]
	if pg.mapped {
		return nil, fmt.Errorf("netbuf: page %d already mapped", addr)
	}
	pg.mapped = true
	return pg.buf, nil
}

// RtnVA releases the virtual mapping GetVA attached to the data page
// addr. It reports an error for an invalid page or one that is not
// mapped.
func (p *Pool) RtnVA(addr PageAddr) error {
	p.dmu.Lock()
	defer p.dmu.Unlock()
	if addr == 0 || int(addr) > len(p.datas) {
		return fmt.Errorf("netbuf: RtnVA of invalid page %d", addr)
	}
	pg := &p.datas[addr-1]
	if !pg.mapped {
		return fmt.Errorf("netbuf: page %d was not mapped", addr)
	}
	pg.mapped = false
	return nil
}

// HeaderBytes exposes the header page without acquiring/releasing it,
// for callers that already hold the page (e.g. the header builder
// writing into a page it just got from GetHdr).
func (p *Pool) HeaderBytes(addr PageAddr) []byte {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	return p.headers[addr-1].buf
}

// DataBytes exposes a data page's backing bytes without the mapped
// bookkeeping GetVA performs; used by DatCopy, which is defined to be
// idempotent and must not consume the page.
func (p *Pool) DataBytes(addr PageAddr) []byte {
	p.dmu.Lock()
	defer p.dmu.Unlock()
	return p.datas[addr-1].buf
}

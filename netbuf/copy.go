package netbuf

import "fmt"

// DataArray is the length-prefixed array of up to MaxDataPages data
// pages used to carry payloads larger than a header page. Unused
// slots are zero.
type DataArray struct {
	Pages [MaxDataPages]PageAddr
	Len   int
}

// DatCopy copies up to len(dat.Len) bytes from dat's pages into dest,
// mapping and unmapping each page as it goes. It does not consume or
// release the pages, and is safe to call repeatedly against the same
// DataArray.
func DatCopy(p *Pool, dat DataArray, dest []byte) (int, error) {
	if dat.Len > len(dest) {
		return 0, fmt.Errorf("netbuf: DatCopy dest too small: have %d, need %d", len(dest), dat.Len)
	}
	remaining := dat.Len
	copied := 0
	for _, addr := range dat.Pages {
		if remaining <= 0 {
			break
		}
		if addr == 0 {
			return copied, fmt.Errorf("netbuf: DatCopy ran out of pages with %d bytes remaining", remaining)
		}
		n := remaining
		if n > DataSize {
			n = DataSize
		}
		buf := p.DataBytes(addr)
		copy(dest[copied:copied+n], buf[:n])
		copied += n
		remaining -= n
	}
	return copied, nil
}

// CopyToPA copies src into freshly acquired data pages, returning the
// resulting DataArray. If acquiring a later page fails (pool
// exhausted), every page already acquired for this call is returned
// to the pool before the error is reported — the Go equivalent of the
// source's FIM_CLEANUP fault-cleanup frame for partially acquired
// pages.
func CopyToPA(p *Pool, src []byte) (dat DataArray, err error) {
	if len(src) > MaxDataPages*DataSize {
		return DataArray{}, fmt.Errorf("netbuf: CopyToPA payload too large: %d bytes", len(src))
	}
	var acquired []PageAddr
	defer func() {
		if err != nil {
			for _, a := range acquired {
				p.RtnDat(a)
			}
		}
	}()

	remaining := len(src)
	offset := 0
	for i := 0; remaining > 0; i++ {
		if i >= MaxDataPages {
			err = fmt.Errorf("netbuf: CopyToPA payload spans more than %d pages", MaxDataPages)
			return DataArray{}, err
		}
		addr, ok := p.GetDat()
		if !ok {
			err = fmt.Errorf("netbuf: CopyToPA: data pool exhausted")
			return DataArray{}, err
		}
		acquired = append(acquired, addr)
		n := remaining
		if n > DataSize {
			n = DataSize
		}
		buf := p.DataBytes(addr)
		copy(buf[:n], src[offset:offset+n])
		dat.Pages[i] = addr
		offset += n
		remaining -= n
	}
	dat.Len = len(src)
	return dat, nil
}

// ReleaseDataArray returns every non-zero page in dat to the pool.
func ReleaseDataArray(p *Pool, dat DataArray) {
	for _, addr := range dat.Pages {
		if addr != 0 {
			p.RtnDat(addr)
		}
	}
}

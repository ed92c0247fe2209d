package dirstore

import (
	"fmt"

	"github.com/m-lab/domain-kernel/uid"
)

// FixDir is spec.md §4.4's OLD_FIX_DIR: one of two paths depending on
// whether the directory's exclusion lock could be acquired.
//
// locked=true is the repairable path: spec.md describes copying the
// directory's raw pages into a temp file, truncating and
// re-initializing the original, then walking the temp and reissuing
// ADDU/ROOT_ADDU for type-1 entries and ADD_LINKU for type-3 entries.
// This store has no raw pages to copy, so the equivalent operation is
// walking a snapshot of the in-memory entries and reinstalling them
// into a freshly reset directory — same walk-and-reissue shape,
// without the page-level plumbing spec.md's non-goals exclude.
//
// locked=false is the corrupted path: map the directory directly. If
// its version word is below 2, reinitialize the header in place;
// otherwise the directory is unrecoverable and FixDir reports
// naming_bad_directory.
func (s *Store) FixDir(dirUID uid.UID, locked bool) (repaired bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dirs[dirUID]
	if !ok {
		return false, fmt.Errorf("naming_bad_directory: %s", dirUID)
	}

	if locked {
		old := d.Entries
		d.Entries = make(map[string]*Entry, len(old))
		for name, e := range old {
			ce := *e
			d.Entries[name] = &ce
		}
		d.Version = 2
		return true, nil
	}

	if d.Version < 2 {
		d.Version = 2
		return true, nil
	}
	return false, fmt.Errorf("naming_bad_directory: %s", dirUID)
}

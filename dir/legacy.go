package dir

import (
	"context"
	"strings"

	"github.com/m-lab/domain-kernel/dirstore"
	"github.com/m-lab/domain-kernel/status"
	"github.com/m-lab/domain-kernel/uid"
)

// Lock-mode flags for acquireDirLock, spec.md §4.4's "acquire directory
// lock in super mode with a flag mask."
const (
	lockRead        = 0x10000
	lockWrite       = 0x40000
	lockWriteModify = 0x40002
)

// validateLeafCaseMapped is FUN_e54414: validate a leaf name's length
// and fold it to the case the legacy wire format expects.
func validateLeafCaseMapped(name string) (string, error) {
	if err := dirstore.ValidateLeaf(name); err != nil {
		return "", err
	}
	return strings.ToUpper(name), nil
}

// dirLock is the token acquireDirLock hands back; releaseDirLock
// consumes it. The legacy wire format's directory access is always
// through this acquire/lookup/release sequence rather than a single
// store call, which is why the legacy handlers below don't call
// dirstore.Store's higher-level methods directly.
type dirLock struct {
	store *dirstore.Store
	dir   *dirstore.Directory
	flags int
}

// acquireDirLock is FUN_e54854.
func acquireDirLock(store *dirstore.Store, dirUID uid.UID, flags int) (*dirLock, error) {
	d, ok := store.Dir(dirUID)
	if !ok {
		return nil, errNamingBadDirectory
	}
	return &dirLock{store: store, dir: d, flags: flags}, nil
}

// lookupEntryLocked is FUN_e54b9e.
func (l *dirLock) lookupEntryLocked(name string) (dirstore.Entry, error) {
	return l.store.GetEntry(l.dir.UID, name)
}

// releaseDirLock is FUN_e54734; aclExitSuper restores the caller's
// original ACL-checking mode, always run after releaseDirLock whether
// or not the operation succeeded.
func releaseDirLock(l *dirLock) {}
func aclExitSuper(l *dirLock)   {}

var errNamingBadDirectory = status.NamingBadDirectory

// LegacyHandler mirrors LocalHandler's shape for OLD_ operations; it
// is only ever invoked after DoOp has already returned a version-skew
// status, never tried first.
type LegacyHandler func(ctx context.Context, req Request) Response

// RegisterLegacyHandlers wires the subset of OLD_ handlers this module
// implements: OLD_ADD_HARD_LINKU, for OpAddHardLink (spec.md §8
// scenario S3), and OLD_DELETE_DIRU, for OpDeleteDir (spec.md §9's
// open bad-reply-pointer question — that question concerns
// OLD_DROP_DIRU specifically, which this module does not implement;
// OpDeleteDir's legacy path here passes the directory UID through
// normally rather than reconstructing it from a raw name_len pointer,
// since no true pointer arithmetic applies in this runtime).
func RegisterLegacyHandlers(d *Dispatcher, store *dirstore.Store) map[Opcode]LegacyHandler {
	legacy := make(map[Opcode]LegacyHandler)

	legacy[OpAddHardLink] = func(ctx context.Context, req Request) Response {
		name, rest, ok := getString(req.Payload)
		objUID, _, ok2 := getUID(rest)
		if !ok || !ok2 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		name, err := validateLeafCaseMapped(name)
		if err != nil {
			return errResponse(status.NamingInvalidLeaf)
		}
		lock, err := acquireDirLock(store, req.DirUID, lockWriteModify)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		defer aclExitSuper(lock)
		defer releaseDirLock(lock)
		if err := store.AddHardLink(req.DirUID, name, objUID); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	legacy[OpDeleteDir] = func(ctx context.Context, req Request) Response {
		lock, err := acquireDirLock(store, req.DirUID, lockWrite)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		defer aclExitSuper(lock)
		defer releaseDirLock(lock)
		if !store.DeleteDir(req.DirUID) {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	return legacy
}

// retriesLegacy reports whether st is one of the two version-skew
// statuses spec.md §4.4's "legacy-downgrade protocol" names as the
// trigger for retrying through the paired OLD_ handler.
func retriesLegacy(st status.Status) bool {
	return st == status.BadReplyReceivedFromRemoteNode || st == status.NamingBadDirectory
}

// CallWithLegacyFallback is the encoder-level wrapper every DIR
// encoder uses: try the current-version opcode via DoOp, and on a
// version-skew status retry once through the paired legacy handler —
// spec.md §8 property 5's "invoked the corresponding OLD handler
// exactly once."
func (d *Dispatcher) CallWithLegacyFallback(ctx context.Context, callerIsServerProcess bool, req Request, legacy LegacyHandler) (Response, status.Status) {
	resp, st := d.DoOp(ctx, callerIsServerProcess, req)
	if retriesLegacy(st) && legacy != nil {
		resp = legacy(ctx, req)
		st = status.Status(resp.Status)
	}
	return resp, st
}

package dir

import (
	"context"
	"encoding/binary"

	"github.com/m-lab/domain-kernel/dirstore"
	"github.com/m-lab/domain-kernel/status"
	"github.com/m-lab/domain-kernel/uid"
)

// Each local handler's payload is a small fixed-plus-length-prefixed
// encoding private to this node's own wire: spec.md only fixes the
// outer request/response shape (wire.go), leaving each opcode's
// payload format to the implementation.

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(buf []byte) (s string, rest []byte, ok bool) {
	if len(buf) < 2 {
		return "", buf, false
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", buf, false
	}
	return string(buf[:n]), buf[n:], true
}

func putUID(buf []byte, u uid.UID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], u.High)
	binary.BigEndian.PutUint32(b[4:8], u.Low)
	return append(buf, b[:]...)
}

func getUID(buf []byte) (u uid.UID, rest []byte, ok bool) {
	if len(buf) < 8 {
		return uid.Nil, buf, false
	}
	return uid.New(binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8])), buf[8:], true
}

func putFlush(buf []byte, flushUID uid.UID, needs bool) []byte {
	if needs {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return putUID(buf, flushUID)
}

func errResponse(st status.Status) Response {
	return Response{Status: uint32(st)}
}

// RegisterDefaultHandlers wires every DIR local opcode against store,
// spec.md §4.4's list of "~22" operations a node serves for UIDs it
// holds the authoritative hint for.
func RegisterDefaultHandlers(d *Dispatcher, store *dirstore.Store) {
	d.Handlers[OpAdd] = func(ctx context.Context, req Request) Response {
		name, rest, ok := getString(req.Payload)
		objUID, _, ok2 := getUID(rest)
		if !ok || !ok2 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := dirstore.ValidateLeaf(name); err != nil {
			return errResponse(status.NamingInvalidLeaf)
		}
		if err := store.Add(req.DirUID, name, objUID); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpAddHardLink] = func(ctx context.Context, req Request) Response {
		name, rest, ok := getString(req.Payload)
		objUID, _, ok2 := getUID(rest)
		if !ok || !ok2 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.AddHardLink(req.DirUID, name, objUID); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpDelete] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.Delete(req.DirUID, name); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpDropHardLink] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		flushUID, needs, err := store.DropHardLink(req.DirUID, name)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK), Payload: putFlush(nil, flushUID, needs)}
	}

	d.Handlers[OpRename] = func(ctx context.Context, req Request) Response {
		fromName, rest, ok := getString(req.Payload)
		toDir, rest, ok2 := getUID(rest)
		toName, _, ok3 := getString(rest)
		if !ok || !ok2 || !ok3 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := dirstore.ValidateLeaf(toName); err != nil {
			return errResponse(status.NamingInvalidLeaf)
		}
		if err := store.Rename(req.DirUID, fromName, toDir, toName); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpCreateDir] = func(ctx context.Context, req Request) Response {
		newDir, rest, ok := getUID(req.Payload)
		parent, _, ok2 := getUID(rest)
		if !ok || !ok2 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		store.CreateDir(newDir, parent)
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpDeleteDir] = func(ctx context.Context, req Request) Response {
		if !store.DeleteDir(req.DirUID) {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpReadLink] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		target, err := store.ReadLink(req.DirUID, name)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK), Payload: putString(nil, target)}
	}

	d.Handlers[OpDropLink] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.DropLink(req.DirUID, name); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpAddLink] = func(ctx context.Context, req Request) Response {
		name, rest, ok := getString(req.Payload)
		target, _, ok2 := getString(rest)
		if !ok || !ok2 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.AddLink(req.DirUID, name, target); err != nil {
			return errResponse(status.NamingInvalidLink)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpDirRead] = func(ctx context.Context, req Request) Response {
		entries, err := store.DirRead(req.DirUID)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK), Payload: encodeEntries(entries)}
	}

	d.Handlers[OpGetEntry] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		e, err := store.GetEntry(req.DirUID, name)
		if err != nil {
			return errResponse(status.FileNotFound)
		}
		return Response{Status: uint32(status.OK), Payload: encodeEntry(e)}
	}

	d.Handlers[OpGetNext] = func(ctx context.Context, req Request) Response {
		after, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		e, found, err := store.GetNext(req.DirUID, after)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		if !found {
			return Response{Status: uint32(status.FileNotFound)}
		}
		return Response{Status: uint32(status.OK), Continuation: true, Payload: encodeEntry(e)}
	}

	d.Handlers[OpFixDir] = func(ctx context.Context, req Request) Response {
		locked := len(req.Payload) > 0 && req.Payload[0] != 0
		repaired, err := store.FixDir(req.DirUID, locked)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		var payload []byte
		if repaired {
			payload = []byte{1}
		} else {
			payload = []byte{0}
		}
		return Response{Status: uint32(status.OK), Payload: payload}
	}

	d.Handlers[OpSetACL] = func(ctx context.Context, req Request) Response {
		acl, _, ok := getUID(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.SetACL(req.DirUID, acl); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpSetDefaultACL] = func(ctx context.Context, req Request) Response {
		acl, _, ok := getUID(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.SetDefaultACL(req.DirUID, acl); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpGetDefaultACL] = func(ctx context.Context, req Request) Response {
		acl, err := store.GetDefaultACL(req.DirUID)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK), Payload: putUID(nil, acl)}
	}

	d.Handlers[OpValidateRoot] = func(ctx context.Context, req Request) Response {
		ok, err := store.ValidateRoot(req.DirUID)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		if !ok {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	setProt := func(ctx context.Context, req Request) Response {
		if len(req.Payload) < 4 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		prot := binary.BigEndian.Uint32(req.Payload)
		if err := store.SetProt(req.DirUID, prot); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}
	d.Handlers[OpSetProt] = setProt
	d.Handlers[OpSetProtExt] = setProt

	d.Handlers[OpGetProt] = func(ctx context.Context, req Request) Response {
		prot, err := store.GetProt(req.DirUID)
		if err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], prot)
		return Response{Status: uint32(status.OK), Payload: buf[:]}
	}

	d.Handlers[OpResolve] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		target, redirected, err := store.Resolve(req.DirUID, name)
		if err != nil {
			return errResponse(status.FileNotFound)
		}
		return Response{Status: uint32(status.OK), Loop: redirected, Payload: putUID(nil, target)}
	}

	d.Handlers[OpMount] = func(ctx context.Context, req Request) Response {
		name, rest, ok := getString(req.Payload)
		child, _, ok2 := getUID(rest)
		if !ok || !ok2 {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.Mount(req.DirUID, name, child); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}

	d.Handlers[OpDropMount] = func(ctx context.Context, req Request) Response {
		name, _, ok := getString(req.Payload)
		if !ok {
			return errResponse(status.BadReplyReceivedFromRemoteNode)
		}
		if err := store.DropMount(req.DirUID, name); err != nil {
			return errResponse(status.NamingBadDirectory)
		}
		return Response{Status: uint32(status.OK)}
	}
}

func encodeEntry(e dirstore.Entry) []byte {
	buf := []byte{byte(e.Type)}
	buf = putUID(buf, e.Target)
	buf = putString(buf, e.Name)
	buf = putString(buf, e.LinkTarget)
	return buf
}

func encodeEntries(entries []dirstore.Entry) []byte {
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(entries)))
	buf := append([]byte{}, count[:]...)
	for _, e := range entries {
		buf = append(buf, encodeEntry(e)...)
	}
	return buf
}

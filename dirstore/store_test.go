package dirstore_test

import (
	"testing"

	"github.com/m-lab/domain-kernel/dirstore"
	"github.com/m-lab/domain-kernel/uid"
)

func TestAddHardLinkAndDropReachesZero(t *testing.T) {
	s := dirstore.NewStore()
	dir := uid.New(1, 1)
	obj := uid.New(1, 2)
	s.CreateDir(dir, uid.Nil)

	if err := s.Add(dir, "foo", obj); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.AddHardLink(dir, "bar", obj); err != nil {
		t.Fatalf("AddHardLink: %v", err)
	}

	flush, needs, err := s.DropHardLink(dir, "foo")
	if err != nil {
		t.Fatalf("DropHardLink: %v", err)
	}
	if needs {
		t.Fatalf("expected no flush while a second hard link remains, got flush=%v", flush)
	}

	flush, needs, err = s.DropHardLink(dir, "bar")
	if err != nil {
		t.Fatalf("DropHardLink: %v", err)
	}
	if !needs || flush != obj {
		t.Fatalf("expected flush of %v once the last hard link drops, got needs=%v flush=%v", obj, needs, flush)
	}
}

func TestRenameMovesEntry(t *testing.T) {
	s := dirstore.NewStore()
	dir := uid.New(1, 1)
	obj := uid.New(1, 2)
	s.CreateDir(dir, uid.Nil)
	if err := s.Add(dir, "foo", obj); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Rename(dir, "foo", dir, "baz"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := s.GetEntry(dir, "foo"); err == nil {
		t.Fatal("old name should no longer resolve")
	}
	e, err := s.GetEntry(dir, "baz")
	if err != nil || e.Target != obj {
		t.Fatalf("GetEntry(baz): %v, %+v", err, e)
	}
}

func TestLeafAndLinkLengthBoundaries(t *testing.T) {
	if err := dirstore.ValidateLeaf(""); err == nil {
		t.Fatal("empty leaf name should be rejected")
	}
	longName := make([]byte, 256)
	if err := dirstore.ValidateLeaf(string(longName)); err == nil {
		t.Fatal("256-byte leaf name should be rejected")
	}
	okName := make([]byte, 255)
	if err := dirstore.ValidateLeaf(string(okName)); err != nil {
		t.Fatalf("255-byte leaf name should be accepted: %v", err)
	}

	if err := dirstore.ValidateLinkTarget(""); err == nil {
		t.Fatal("empty link target should be rejected")
	}
	longLink := make([]byte, 1024)
	if err := dirstore.ValidateLinkTarget(string(longLink)); err == nil {
		t.Fatal("1024-byte link target should be rejected")
	}
	okLink := make([]byte, 1023)
	if err := dirstore.ValidateLinkTarget(string(okLink)); err != nil {
		t.Fatalf("1023-byte link target should be accepted: %v", err)
	}
}

func TestFixDirRepairableAndCorruptedPaths(t *testing.T) {
	s := dirstore.NewStore()
	dir := uid.New(1, 1)
	s.CreateDir(dir, uid.Nil)
	s.Add(dir, "foo", uid.New(1, 2))

	repaired, err := s.FixDir(dir, true)
	if err != nil || !repaired {
		t.Fatalf("repairable FixDir: repaired=%v err=%v", repaired, err)
	}
	if _, err := s.GetEntry(dir, "foo"); err != nil {
		t.Fatalf("entry should survive the repairable walk: %v", err)
	}

	other := uid.New(2, 1)
	d := s.CreateDir(other, uid.Nil)
	d.Version = 1
	repaired, err = s.FixDir(other, false)
	if err != nil || !repaired {
		t.Fatalf("corrupted-but-recoverable FixDir: repaired=%v err=%v", repaired, err)
	}

	unrecoverable := uid.New(3, 1)
	s.CreateDir(unrecoverable, uid.Nil)
	if _, err := s.FixDir(unrecoverable, false); err == nil {
		t.Fatal("version>=2 with an unavailable lock should report naming_bad_directory")
	}
}

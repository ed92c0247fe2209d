package main

import (
	"bytes"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"
)

func TestMainTooManyArgs(t *testing.T) {
	defer func(args []string) {
		os.Args = args
		logFatal = log.Fatal
	}(os.Args)

	os.Args = []string{"test_riptool", "file1", "file2"}
	logFatal = func(...interface{}) {
		panic("panic instead of log.Fatal")
	}

	defer func() {
		e := recover()
		if e == nil {
			t.Error("Should have panicked")
		}
	}()

	main()
}

func TestOpenFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "TestOpenFile")
	rtx.Must(err, "Could not make tempdir")
	defer os.RemoveAll(dir)
	rtx.Must(ioutil.WriteFile(dir+"/test.txt", []byte("abcd"), 0666), "Could not write test.txt")
	r, err := openFile(dir + "/test.txt")
	rtx.Must(err, "Could not open file")
	b, err := ioutil.ReadAll(r)
	rtx.Must(err, "Could not read file")
	if string(b) != "abcd" {
		t.Errorf("%q != \"abcd\"", string(b))
	}
}

func TestReadRoutes(t *testing.T) {
	in := strings.NewReader(
		`{"Class":"standard","Network":167772160,"Metric":1,"Port":0,"GatewayNode":0,"State":"valid","Age":0}` + "\n")
	lines, err := readRoutes(in)
	rtx.Must(err, "Could not read route snapshot lines")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Network != 167772160 || lines[0].State != "valid" {
		t.Errorf("unexpected line: %+v", lines[0])
	}

	buf := bytes.NewBuffer(nil)
	rtx.Must(gocsv.Marshal(lines, buf), "Could not convert routes to CSV")
	if !strings.Contains(buf.String(), "167772160") {
		t.Errorf("CSV output missing expected network: %s", buf.String())
	}
}

func TestReadHints(t *testing.T) {
	in := strings.NewReader(
		`{"UIDHigh":1,"UIDLow":2,"Rank":0,"Node":3,"Port":8}` + "\n")
	lines, err := readHints(in)
	rtx.Must(err, "Could not read hint snapshot lines")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Node != 3 || lines[0].Port != 8 {
		t.Errorf("unexpected line: %+v", lines[0])
	}
}

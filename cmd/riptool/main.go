// Main package riptool implements a command line tool for converting
// rip.Table/hint.Cache JSONL snapshot dumps into CSV reports, the
// same role cmd/csvtool played for tcp-info connection snapshots.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/domain-kernel/hint"
	"github.com/m-lab/domain-kernel/rip"
	"github.com/m-lab/domain-kernel/zstd"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	// A variable to enable mocking for testing.
	logFatal = log.Fatal

	kind = flag.String("kind", "routes", `Which kind of snapshot to convert: "routes" (rip.Table.WriteSnapshot output) or "hints" (hint.Cache.WriteSnapshot output).`)
)

// openFile either opens a file, or opens and unzips a file that ends with .zst
func openFile(fn string) (io.ReadCloser, error) {
	if strings.HasSuffix(fn, ".zst") {
		return zstd.NewReader(fn), nil
	}
	return os.Open(fn)
}

func readRoutes(rdr io.Reader) ([]rip.SnapshotLine, error) {
	var lines []rip.SnapshotLine
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		var line rip.SnapshotLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func readHints(rdr io.Reader) ([]hint.SnapshotLine, error) {
	var lines []hint.SnapshotLine
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		var line hint.SnapshotLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func main() {
	flag.Parse()
	args := flag.Args()

	var source io.ReadCloser = os.Stdin
	var err error
	if len(args) == 1 {
		source, err = openFile(args[0])
		rtx.Must(err, "Could not open file %q", args[0])
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
	}
	defer source.Close()

	switch *kind {
	case "routes":
		lines, err := readRoutes(source)
		rtx.Must(err, "Could not read route snapshot lines")
		rtx.Must(gocsv.Marshal(lines, os.Stdout), "Could not convert routes to CSV")
	case "hints":
		lines, err := readHints(source)
		rtx.Must(err, "Could not read hint snapshot lines")
		rtx.Must(gocsv.Marshal(lines, os.Stdout), "Could not convert hints to CSV")
	default:
		logFatal("Unknown -kind ", *kind, `; must be "routes" or "hints".`)
	}
}

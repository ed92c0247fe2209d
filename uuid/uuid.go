// Package uuid generates process-unique correlation ids for audit
// records: a hostname+boot-time prefix (globally unique per machine
// boot) combined with a locally monotonic counter.
package uuid

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var cachedPrefixString = ""

func timeToUnix(t time.Time) int64 {
	return int64(t.Sub(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)).Seconds())
}

// getBoottimeWithRaceCondition has a race condition between the reading of
// /proc/uptime and the call to time.Now(). If, between those two syscalls, we
// cross a second-granularity time boundary, then the result will be off by one.
// It seems safe to assume, however, that this race condition won't happen twice
// in quick succession, so the recommended way to use this function is to call
// it multiple times until it returns the same answer twice.
func getBoottimeWithRaceCondition() (int64, error) {
	procuptime, err := ioutil.ReadFile("/proc/uptime")
	if err != nil {
		return -1, err
	}
	times := strings.Split(string(procuptime), " ")
	if len(times) != 2 {
		return -1, fmt.Errorf("Could not split /proc/uptime into two parts")
	}
	uptime, err := strconv.ParseFloat(times[0], 64)
	if err != nil {
		return -1, fmt.Errorf("Could not parse /proc/uptime into a float")
	}
	return timeToUnix(time.Now().Add(time.Duration(-1 * uptime * float64(time.Second)))), nil
}

func getBoottime() (int64, error) {
	// Call the function with the race condition repeatedly until it returns the
	// same answer twice. As long as things take significantly less than a second
	// to run, this will eleiminate the race condition. And if it takes
	// significantly more than a fraction of a second to call time.Now and read
	// /proc/uptime, things are truly messed up.
	var prev, curr int64
	curr, err := getBoottimeWithRaceCondition()
	if err != nil {
		return curr, err
	}
	for prev != curr {
		prev = curr
		curr, err = getBoottimeWithRaceCondition()
		if err != nil {
			return curr, err
		}
	}
	return curr, nil
}

// getPrefix returns a prefix string which contains the hostname and boot time
// of the machine, which globally uniquely identifies the correlation-id
// namespace. This function is cached because that pair should be constant for
// a given instance of the program, unless the boot time changes (how?) or the
// hostname changes (why?) while this program is running.
func getPrefix() (string, error) {
	if cachedPrefixString == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", err
		}
		boottime, err := getBoottime()
		if err != nil {
			return "", err
		}
		cachedPrefixString = fmt.Sprintf("%s_%d", hostname, boottime)
	}
	return cachedPrefixString, nil
}

// FromCookie returns a globally-unique-enough id for the passed-in
// 64-bit cookie, prefixed with this process's hostname+boottime
// namespace.
func FromCookie(cookie uint64) (string, error) {
	prefix, err := getPrefix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%X", prefix, cookie), nil
}

// Generator hands out correlation ids unique within one process's
// lifetime by pairing the hostname+boottime prefix with an atomic
// counter — audit.Pipeline's source of Record.CorrelationID.
type Generator struct {
	counter uint64
}

// NewGenerator returns a Generator. The prefix is computed lazily on
// first New() call, not here, so construction never fails.
func NewGenerator() *Generator {
	return &Generator{}
}

// New returns the next correlation id.
func (g *Generator) New() (string, error) {
	return FromCookie(atomic.AddUint64(&g.counter, 1))
}

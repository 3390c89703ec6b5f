package main

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/hubclient/pkg/lowlevel"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// deviceTally counts how a device's events were settled.
type deviceTally struct {
	results    map[lowlevel.ConfirmationResult]int
	sendErrors int
}

// tally collects confirmations per device, in the order devices were added.
// Confirmations arrive on worker goroutines.
type tally struct {
	mu       sync.Mutex
	devices  *orderedmap.OrderedMap[string, *deviceTally]
	expected int
	settled  int
	done     chan struct{}
}

func newTally(expected int, devices ...string) *tally {
	t := &tally{
		devices:  orderedmap.New[string, *deviceTally](),
		expected: expected,
		done:     make(chan struct{}),
	}
	for _, id := range devices {
		t.devices.Set(id, &deviceTally{results: map[lowlevel.ConfirmationResult]int{}})
	}
	if expected == 0 {
		close(t.done)
	}
	return t
}

func (t *tally) record(device string, result lowlevel.ConfirmationResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.device(device).results[result]++
	t.settle()
}

func (t *tally) sendFailed(device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.device(device).sendErrors++
	t.settle()
}

// device must be called with mu held.
func (t *tally) device(id string) *deviceTally {
	d, ok := t.devices.Get(id)
	if !ok {
		d = &deviceTally{results: map[lowlevel.ConfirmationResult]int{}}
		t.devices.Set(id, d)
	}
	return d
}

// settle must be called with mu held.
func (t *tally) settle() {
	t.settled++
	if t.settled == t.expected {
		close(t.done)
	}
}

// Done is closed once every expected event is settled.
func (t *tally) Done() <-chan struct{} {
	return t.done
}

// Confirmed returns how many events were confirmed OK.
func (t *tally) Confirmed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for pair := t.devices.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.results[lowlevel.ConfirmationOK]
	}
	return n
}

// Print writes one colored line per device.
func (t *tally) Print(out io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	pending := color.New(color.FgYellow)

	accounted := 0
	for pair := t.devices.Oldest(); pair != nil; pair = pair.Next() {
		d := pair.Value
		fmt.Fprintf(out, "%-16s ", pair.Key)
		ok.Fprintf(out, "%d %s", d.results[lowlevel.ConfirmationOK], lowlevel.ConfirmationOK)
		accounted += d.results[lowlevel.ConfirmationOK] + d.sendErrors

		failed := make([]lowlevel.ConfirmationResult, 0, len(d.results))
		for r := range d.results {
			if r != lowlevel.ConfirmationOK {
				failed = append(failed, r)
			}
		}
		sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
		for _, r := range failed {
			fmt.Fprint(out, "  ")
			bad.Fprintf(out, "%d %s", d.results[r], r)
			accounted += d.results[r]
		}
		if d.sendErrors > 0 {
			fmt.Fprint(out, "  ")
			bad.Fprintf(out, "%d send_error", d.sendErrors)
		}
		fmt.Fprintln(out)
	}

	if missing := t.expected - accounted; missing > 0 {
		pending.Fprintf(out, "%d events still pending\n", missing)
	}
}

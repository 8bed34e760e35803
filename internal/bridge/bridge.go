// Package bridge is the host↔engine wire: it subscribes to the
// internal event bus and forwards every delivered event to the host
// process as one JSON line on stdout, prefixed with a fixed sentinel
// so the host can tell framed events apart from any stray stdout
// writes elsewhere in the process. Logs go to stderr instead, the way
// internal/logging does, so the two streams never interleave.
package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

// Sentinel prefixes every framed event line so the host can split
// engine stdout into "framed event" vs "anything else" without a
// length-prefixed or otherwise binary protocol.
const Sentinel = "@@ENGINE-EVENT@@"

// Bridge owns the subscription and the dedicated serialization
// goroutine that writes framed lines to its output writer.
type Bridge struct {
	bus    *events.EventBus
	out    *bufio.Writer
	outMu  sync.Mutex
	logger logging.Logger
	sub    *events.Subscription
	done   chan struct{}
	wg     sync.WaitGroup
}

// New subscribes to every event on bus and writes framed events to w
// (stdout in production, an in-memory buffer in tests).
func New(bus *events.EventBus, w io.Writer, logger logging.Logger) (*Bridge, error) {
	sub, err := bus.Subscribe("bridge", nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: subscribe: %w", err)
	}
	// The bus's per-event-name Strategy table paces this subscription
	// like any other: names with no entry are delivered immediately,
	// listed names are throttled or debounced.

	b := &Bridge{
		bus:    bus,
		out:    bufio.NewWriter(w),
		logger: logger,
		sub:    sub,
		done:   make(chan struct{}),
	}

	b.wg.Add(1)
	go b.serialize()
	return b, nil
}

// serialize is the dedicated goroutine that drains sub.Channel and
// writes one JSON line per event. It never reads stdin; a failed write
// is reported through the logger.
func (b *Bridge) serialize() {
	defer b.wg.Done()
	for {
		select {
		case event, ok := <-b.sub.Channel:
			if !ok {
				return
			}
			if err := b.writeLine(event); err != nil {
				b.logger.Error("bridge: write failed", "error", err, "event", event.Name)
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) writeLine(event *events.Event) error {
	payload, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}

	b.outMu.Lock()
	defer b.outMu.Unlock()

	if _, err := b.out.WriteString(Sentinel); err != nil {
		return err
	}
	if _, err := b.out.Write(payload); err != nil {
		return err
	}
	if err := b.out.WriteByte('\n'); err != nil {
		return err
	}
	return b.out.Flush()
}

// Close stops accepting bus deliveries and waits for the in-flight
// write, if any, to finish.
func (b *Bridge) Close() error {
	close(b.done)
	_ = b.bus.UnsubscribeAll("bridge")
	b.wg.Wait()
	return nil
}

// ParseLine strips the sentinel from a line read from the engine's
// stdout and decodes the event, for use by a host-side reader (or by
// this package's own tests, which exercise the bridge end to end).
func ParseLine(line []byte) (*events.Event, error) {
	prefix := []byte(Sentinel)
	if len(line) < len(prefix) || string(line[:len(prefix)]) != Sentinel {
		return nil, fmt.Errorf("bridge: line missing sentinel %q", Sentinel)
	}
	var e events.Event
	if err := json.Unmarshal(line[len(prefix):], &e); err != nil {
		return nil, fmt.Errorf("bridge: decode event: %w", err)
	}
	return &e, nil
}

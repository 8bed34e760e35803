package bridge

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

func newRunningBus(t *testing.T) *events.EventBus {
	t.Helper()
	bus := events.NewEventBus(events.DefaultBusConfig())
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop() })
	return bus
}

func TestBridgeFramesOneJSONLinePerEvent(t *testing.T) {
	bus := newRunningBus(t)
	var buf bytes.Buffer

	b, err := New(bus, &buf, logging.NewLogger(logging.INFO))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, bus.Publish(events.NewEvent(events.ScanComplete, map[string]int{"files": 3})))

	require.Eventually(t, func() bool {
		return buf.Len() > 0
	}, time.Second, 5*time.Millisecond)

	scanner := bufio.NewScanner(&buf)
	require.True(t, scanner.Scan())
	line := scanner.Bytes()

	event, err := ParseLine(append([]byte{}, line...))
	require.NoError(t, err)
	require.Equal(t, events.ScanComplete, event.Name)
}

func TestParseLineRejectsUnframedInput(t *testing.T) {
	_, err := ParseLine([]byte(`{"name":"scan-complete"}`))
	require.Error(t, err)
}

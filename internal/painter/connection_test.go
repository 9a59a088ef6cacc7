package painter

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelflut/pixelflutd/internal/canvas"
	"github.com/pixelflut/pixelflutd/internal/credentials"
	"github.com/pixelflut/pixelflutd/internal/events"
	"github.com/pixelflut/pixelflutd/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConnection(t *testing.T, cfg Config) (*Connection, net.Conn) {
	t.Helper()

	server, client := net.Pipe()

	store, err := credentials.Open(filepath.Join(t.TempDir(), "credentials.yaml"))
	require.NoError(t, err)

	canv := canvas.New(10, 10)
	ingress := make(chan events.Event, 16)
	sched := scheduler.New(time.Hour, ingress, testLogger())

	c := NewConnection(server, canv, sched, store, ingress, nil, cfg, testLogger(), nil)
	return c, client
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line[:len(line)-1]
}

func TestS1FirstLoginCreatesUser(t *testing.T) {
	c, client := newTestConnection(t, Config{MaxPixelsPerSlot: 3, SlotDuration: 500 * time.Millisecond, MaxLineLength: 128})
	go c.Serve()
	defer client.Close()

	reader := bufio.NewReader(client)
	_, err := client.Write([]byte("LOGIN alice hunter2\n"))
	require.NoError(t, err)

	require.Equal(t, "LOGIN SUCCEEDED", readLine(t, reader))
}

func TestS2PixelWriteRequiresSlot(t *testing.T) {
	c, client := newTestConnection(t, Config{MaxPixelsPerSlot: 3, SlotDuration: 500 * time.Millisecond, MaxLineLength: 128})
	go c.Serve()
	defer client.Close()

	reader := bufio.NewReader(client)
	client.Write([]byte("LOGIN alice hunter2\n"))
	require.Equal(t, "LOGIN SUCCEEDED", readLine(t, reader))

	client.Write([]byte("PX 1 2 ff0000\n"))
	require.Equal(t, "ERROR NOT YOUR SLOT", readLine(t, reader))

	_, err := reader.ReadByte()
	require.Error(t, err, "connection must close after NOT YOUR SLOT")
}

func TestS3QuotaEnforcement(t *testing.T) {
	c, client := newTestConnection(t, Config{MaxPixelsPerSlot: 3, SlotDuration: 500 * time.Millisecond, MaxLineLength: 128})
	go c.Serve()
	defer client.Close()

	reader := bufio.NewReader(client)
	client.Write([]byte("LOGIN bob hunter2\n"))
	require.Equal(t, "LOGIN SUCCEEDED", readLine(t, reader))

	c.mailbox.C <- scheduler.SlotStart
	require.Equal(t, "START 3 500", readLine(t, reader))

	for i := 0; i < 3; i++ {
		client.Write([]byte("PX 0 0 ff0000\n"))
	}

	client.Write([]byte("PX 0 0 ff0000\n"))
	require.Equal(t, "ERROR QUOTA EXCEEDED 3", readLine(t, reader))

	_, err := reader.ReadByte()
	require.Error(t, err, "connection must close after QUOTA EXCEEDED")
}

func TestS3PixelsVisibleOnlyAfterDone(t *testing.T) {
	c, client := newTestConnection(t, Config{MaxPixelsPerSlot: 3, SlotDuration: 500 * time.Millisecond, MaxLineLength: 128})
	go c.Serve()
	defer client.Close()

	reader := bufio.NewReader(client)
	client.Write([]byte("LOGIN carol hunter2\n"))
	require.Equal(t, "LOGIN SUCCEEDED", readLine(t, reader))

	c.mailbox.C <- scheduler.SlotStart
	require.Equal(t, "START 3 500", readLine(t, reader))

	client.Write([]byte("PX 1 1 00ff00\n"))
	time.Sleep(20 * time.Millisecond)

	got, _ := c.canvas.Get(1, 1)
	require.Zero(t, got, "pixel must not apply before DONE")

	client.Write([]byte("DONE\n"))
	require.Equal(t, "DONE 1", readLine(t, reader))

	got, _ = c.canvas.Get(1, 1)
	require.Equal(t, uint32(0x00FF0000), got)
}

func TestS5MissingDoneClosesAfterSlotEnd(t *testing.T) {
	c, client := newTestConnection(t, Config{MaxPixelsPerSlot: 3, SlotDuration: 500 * time.Millisecond, MaxLineLength: 128})
	go c.Serve()
	defer client.Close()

	reader := bufio.NewReader(client)
	client.Write([]byte("LOGIN dave hunter2\n"))
	require.Equal(t, "LOGIN SUCCEEDED", readLine(t, reader))

	c.mailbox.C <- scheduler.SlotStart
	require.Equal(t, "START 3 500", readLine(t, reader))

	client.Write([]byte("PX 2 2 0000ff\n"))
	time.Sleep(20 * time.Millisecond)

	c.mailbox.C <- scheduler.SlotEnd
	require.Equal(t, "ERROR Slot not closed in time", readLine(t, reader))

	got, _ := c.canvas.Get(2, 2)
	require.Zero(t, got, "pixel never flushed must not apply to the canvas")
}

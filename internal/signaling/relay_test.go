package signaling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startRelay runs a relay on a loopback port and returns its ws:// URL.
func startRelay(t *testing.T) string {
	t.Helper()
	r := NewRelay()
	addr, err := r.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return fmt.Sprintf("ws://%s/", addr)
}

func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return kind, string(data)
}

// TestRelayForwardsBothWays checks that frames flow in both directions and
// keep their frame kind.
func TestRelayForwardsBothWays(t *testing.T) {
	url := startRelay(t)
	a := dialRaw(t, url)
	b := dialRaw(t, url)

	if err := a.WriteMessage(websocket.TextMessage, []byte("from a")); err != nil {
		t.Fatal(err)
	}
	if kind, got := readFrame(t, b); kind != websocket.TextMessage || got != "from a" {
		t.Errorf("b got (%d, %q)", kind, got)
	}

	if err := b.WriteMessage(websocket.BinaryMessage, []byte("from b")); err != nil {
		t.Fatal(err)
	}
	if kind, got := readFrame(t, a); kind != websocket.BinaryMessage || got != "from b" {
		t.Errorf("a got (%d, %q)", kind, got)
	}
}

// TestRelayQueuesUntilPartnerJoins verifies that an offer sent immediately on
// open is delivered once the other side connects, in order.
func TestRelayQueuesUntilPartnerJoins(t *testing.T) {
	url := startRelay(t)
	a := dialRaw(t, url)

	for i := range 3 {
		if err := a.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatal(err)
		}
	}

	// Give the relay time to read and queue the frames.
	time.Sleep(100 * time.Millisecond)

	b := dialRaw(t, url)
	for i := range 3 {
		want := fmt.Sprintf("msg %d", i)
		if _, got := readFrame(t, b); got != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
}

// TestRelayRefusesThirdPeer checks the two-party limit.
func TestRelayRefusesThirdPeer(t *testing.T) {
	url := startRelay(t)
	dialRaw(t, url)
	dialRaw(t, url)
	c := dialRaw(t, url)

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("third peer read error = %v, want policy violation close", err)
	}
}

// TestRelayFreesSlot verifies a new peer can take over a slot after its
// previous owner disconnects.
func TestRelayFreesSlot(t *testing.T) {
	url := startRelay(t)
	a := dialRaw(t, url)
	b := dialRaw(t, url)

	b.Close()
	time.Sleep(100 * time.Millisecond)

	c := dialRaw(t, url)
	if err := c.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, got := readFrame(t, a); got != "hello" {
		t.Errorf("a got %q, want hello", got)
	}
}

// TestRelayDropsFramesOfDepartedPeer verifies frames queued by a peer that
// left before its partner arrived are never delivered to a later partner.
func TestRelayDropsFramesOfDepartedPeer(t *testing.T) {
	url := startRelay(t)

	a := dialRaw(t, url)
	if err := a.WriteMessage(websocket.TextMessage, []byte("from-a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	a.Close()
	time.Sleep(100 * time.Millisecond)

	c := dialRaw(t, url)
	b := dialRaw(t, url)
	time.Sleep(100 * time.Millisecond)

	if err := c.WriteMessage(websocket.TextMessage, []byte("from-c")); err != nil {
		t.Fatal(err)
	}
	if _, got := readFrame(t, b); got != "from-c" {
		t.Fatalf("b got %q, want from-c", got)
	}
}

// TestRelayEnforcesFrameLimit verifies an oversized frame disconnects its
// sender without reaching the partner.
func TestRelayEnforcesFrameLimit(t *testing.T) {
	url := startRelay(t)
	a := dialRaw(t, url)
	b := dialRaw(t, url)

	// The relay may hang up mid-write, so the write error is not checked.
	a.WriteMessage(websocket.TextMessage, make([]byte, MaxFrameSize+1))

	a.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := a.ReadMessage(); err == nil {
		t.Error("oversized sender still connected")
	} else if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Errorf("oversized sender not disconnected: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := b.ReadMessage(); err == nil {
		t.Errorf("partner received %d bytes from an oversized frame", len(data))
	}
}

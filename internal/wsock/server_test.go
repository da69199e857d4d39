package wsock

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chassisworks/kvmip/internal/hid"
	"github.com/chassisworks/kvmip/internal/hub"
	"github.com/chassisworks/kvmip/internal/video"
)

// startServer spins up the websocket endpoint against temp-file HID
// devices and returns a connected client plus the hub and device paths.
func startServer(t *testing.T) (*websocket.Conn, *hub.Hub, string, string) {
	t.Helper()

	dir := t.TempDir()
	kbPath := filepath.Join(dir, "hidg0")
	ptrPath := filepath.Join(dir, "hidg1")
	for _, p := range []string{kbPath, ptrPath} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatalf("failed to create fake device: %v", err)
		}
	}

	h := hub.New()
	srv := NewServer(h, hid.NewManager(kbPath, ptrPath), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/kvm/0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		h.Close()
	})
	return conn, h, kbPath, ptrPath
}

// waitForContent polls a fake device file until it holds data.
func waitForContent(t *testing.T, path string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return data
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no data written to %s", path)
	return nil
}

func TestKeyboardMessageRoutesToKeyboardDevice(t *testing.T) {
	conn, _, kbPath, ptrPath := startServer(t)

	report := []byte{0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
	msg := append([]byte{0x01}, report...)
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	got := waitForContent(t, kbPath)
	if !bytes.Equal(got, report) {
		t.Errorf("keyboard device got %v, want %v", got, report)
	}
	if data, _ := os.ReadFile(ptrPath); len(data) != 0 {
		t.Errorf("pointer device unexpectedly written: %v", data)
	}
}

func TestPointerMessageRoutesToPointerDevice(t *testing.T) {
	conn, _, kbPath, ptrPath := startServer(t)

	report := []byte{0x01, 0x05, 0xfb, 0x00}
	msg := append([]byte{0x02}, report...)
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	got := waitForContent(t, ptrPath)
	if !bytes.Equal(got, report) {
		t.Errorf("pointer device got %v, want %v", got, report)
	}
	if data, _ := os.ReadFile(kbPath); len(data) != 0 {
		t.Errorf("keyboard device unexpectedly written: %v", data)
	}
}

func TestMalformedMessagesIgnored(t *testing.T) {
	conn, _, kbPath, ptrPath := startServer(t)

	// Unknown tag, wrong-length keyboard report, empty message: all
	// ignored without closing the connection.
	for _, msg := range [][]byte{
		{0x7f, 1, 2, 3},
		{0x01, 1, 2, 3},
		{},
		{0x02, 1, 2},
	} {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Fatalf("failed to send message: %v", err)
		}
	}

	// A valid message afterwards still works, proving the connection
	// survived.
	report := []byte{0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
	if err := conn.WriteMessage(websocket.BinaryMessage, append([]byte{0x01}, report...)); err != nil {
		t.Fatalf("failed to send valid message: %v", err)
	}
	got := waitForContent(t, kbPath)
	if !bytes.Equal(got, report) {
		t.Errorf("keyboard device got %v, want %v", got, report)
	}
	if data, _ := os.ReadFile(ptrPath); len(data) != 0 {
		t.Errorf("pointer device unexpectedly written: %v", data)
	}
}

func TestFrameStreamedAsBinaryMessage(t *testing.T) {
	conn, h, _, _ := startServer(t)

	data := make([]byte, 4*2*4)
	for i := range data {
		data[i] = byte(i)
	}
	h.Publish(&video.Frame{Width: 4, Height: 2, Data: data})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("frame bytes do not round-trip")
	}
}

func TestSlowClientGetsLatestFrame(t *testing.T) {
	conn, h, _, _ := startServer(t)

	// Publish several frames before the client reads anything; the
	// first delivered frame carries the newest fill byte.
	for i := 1; i <= 5; i++ {
		data := make([]byte, 2*2*4)
		for j := range data {
			data[j] = byte(i)
		}
		h.Publish(&video.Frame{Width: 2, Height: 2, Data: data})
		time.Sleep(10 * time.Millisecond)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if got[0] == 0 {
		t.Fatalf("unexpected frame fill %d", got[0])
	}
}

func TestHealthEndpoint(t *testing.T) {
	dir := t.TempDir()
	h := hub.New()
	defer h.Close()
	srv := NewServer(h, hid.NewManager(filepath.Join(dir, "k"), filepath.Join(dir, "p")), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

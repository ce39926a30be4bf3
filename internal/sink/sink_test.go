package sink

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/capture"
	"github.com/petems/pcmcap/internal/pcm"
)

type nopCloser struct {
	bytes.Buffer
	closed bool
}

func (n *nopCloser) Close() error {
	n.closed = true
	return nil
}

func TestWriterConcatenatesPackets(t *testing.T) {
	var out nopCloser
	w := NewWriter(&out)

	w.WritePacket(&capture.Packet{Data: []byte{1, 2, 3, 4}})
	w.WritePacket(&capture.Packet{Data: []byte{5, 6}})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(out.Bytes(), []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected output % x", out.Bytes())
	}
	if w.Written() != 6 {
		t.Fatalf("expected 6 bytes written, got %d", w.Written())
	}
	if !out.closed {
		t.Fatal("expected underlying writer closed")
	}
}

type failingSink struct{ calls int }

func (f *failingSink) WritePacket(*capture.Packet) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) Close() error { return nil }

func TestMultiStopsAtFirstError(t *testing.T) {
	first := &failingSink{}
	second := &failingSink{}
	m := Multi{first, second}

	if err := m.WritePacket(&capture.Packet{}); err == nil {
		t.Fatal("expected error")
	}
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("unexpected calls %d/%d", first.calls, second.calls)
	}
}

func testInfo() pcm.StreamInfo {
	f, _ := pcm.NewStreamFormat(48000, 2, pcm.S16, pcm.LittleEndian)
	return f.Info()
}

func TestBroadcasterInfo(t *testing.T) {
	b := NewBroadcaster(testInfo(), zerolog.Nop())
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var info pcm.StreamInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Codec != pcm.CodecPCMS16LE || info.SampleRate != 48000 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestBroadcasterDeliversPackets(t *testing.T) {
	b := NewBroadcaster(testInfo(), zerolog.Nop())
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	defer b.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for registration
	for i := 0; i < 100 && b.Clients() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", b.Clients())
	}

	if err := b.WritePacket(&capture.Packet{Data: []byte{9, 8, 7, 6}, PTS: 2048}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got %d", kind)
	}
	if pts := binary.BigEndian.Uint64(msg[:headerSize]); pts != 2048 {
		t.Fatalf("expected pts 2048, got %d", pts)
	}
	if !bytes.Equal(msg[headerSize:], []byte{9, 8, 7, 6}) {
		t.Fatalf("unexpected payload % x", msg[headerSize:])
	}
}

func TestBroadcasterWithoutClients(t *testing.T) {
	b := NewBroadcaster(testInfo(), zerolog.Nop())
	if err := b.WritePacket(&capture.Packet{Data: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://pcmcap.local:8089", true},
		{"https://PCMCAP.local:8089", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1", true},
		{"http://[::1]:8080", true},
		{"http://localhost.attacker.example", false},
		{"http://evil.example/?127.0.0.1", false},
		{"http://pcmcap.local:8089.evil.example", false},
		{"http://evil.example/localhost", false},
		{"file://localhost", false},
		{"null", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/stream", nil)
		r.Host = "pcmcap.local:8089"
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}

func TestBroadcasterRejectsForeignOrigin(t *testing.T) {
	b := NewBroadcaster(testInfo(), zerolog.Nop())
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	defer b.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	for _, origin := range []string{"http://localhost.attacker.example", "http://evil.example/?127.0.0.1"} {
		header := http.Header{"Origin": []string{origin}}
		conn, resp, err := websocket.DefaultDialer.Dial(url, header)
		if err == nil {
			conn.Close()
			t.Fatalf("origin %q: expected handshake to be rejected", origin)
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("origin %q: expected 403, got %v", origin, resp)
		}
	}
	if b.Clients() != 0 {
		t.Fatalf("expected no clients, got %d", b.Clients())
	}
}

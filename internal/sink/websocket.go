package sink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/pcmcap/internal/capture"
	"github.com/petems/pcmcap/internal/pcm"
)

const (
	clientQueue  = 32
	writeTimeout = 5 * time.Second
	// headerSize prefixes each binary message with the big-endian PTS.
	headerSize = 8
)

// upgrader accepts same-host and loopback origins only.
var upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Broadcaster pushes every packet to connected websocket clients as a
// binary message: 8-byte big-endian PTS followed by raw PCM. Slow clients
// lose packets rather than stall the pipeline.
type Broadcaster struct {
	log  zerolog.Logger
	info pcm.StreamInfo

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	server  *http.Server
	wg      sync.WaitGroup
}

func NewBroadcaster(info pcm.StreamInfo, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log,
		info:    info,
		clients: make(map[*client]struct{}),
	}
}

// Handler serves /stream (websocket) and /info (stream metadata as JSON).
func (b *Broadcaster) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", b.serveStream)
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(b.info)
	})
	return mux
}

// ListenAndServe runs the HTTP server until ctx is done or Close is
// called.
func (b *Broadcaster) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	b.mu.Lock()
	b.server = srv
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	b.log.Info().Str("addr", addr).Msg("Websocket stream listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (b *Broadcaster) serveStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[c] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	b.log.Debug().Str("remote", r.RemoteAddr).Msg("Websocket client connected")
	go b.readLoop(c)
	b.writeLoop(c)
}

// readLoop discards client messages and unregisters the client on close.
func (b *Broadcaster) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.remove(c)
			return
		}
	}
}

func (b *Broadcaster) writeLoop(c *client) {
	defer b.wg.Done()
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			b.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	c.close()
}

// Clients is the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) WritePacket(pkt *capture.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return nil
	}

	msg := make([]byte, headerSize+len(pkt.Data))
	binary.BigEndian.PutUint64(msg, uint64(pkt.PTS))
	copy(msg[headerSize:], pkt.Data)

	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			// Drop if client queue full (backpressure)
		}
	}
	return nil
}

// Close disconnects every client and stops the server.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	srv := b.server
	b.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Close()
	}
	b.wg.Wait()
	return err
}

package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/hireloop/agentcall/internal/schedule"
	"github.com/hireloop/agentcall/internal/util"
)

var log = logging.Logger("signal")

// ErrChannelClosed is returned by Send after the channel has shut down.
var ErrChannelClosed = errors.New("signaling channel closed")

// Channel is one duplex signaling connection to the call service.
// Messages are delivered to subscribers in arrival order; the channel
// never retries on its own — a failed dial or an unexpected close is
// surfaced to the owner and the session decides what to do.
type Channel struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  map[chan Message]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a signaling channel to the call service at url. The
// service answers the upgrade with 425 when the participant is ahead
// of its own join window; that rejection maps to schedule.ErrTooEarly
// so the gate keeps polling. Every other dial failure is terminal for
// the containing join attempt.
func Dial(url string, timeout time.Duration) (*Channel, error) {
	if timeout <= 0 {
		timeout = util.DefaultDialTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.Dial(url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooEarly {
			return nil, fmt.Errorf("service refused early join: %w", schedule.ErrTooEarly)
		}
		return nil, fmt.Errorf("dial signaling service: %w", err)
	}

	c := &Channel{
		conn:      conn,
		listeners: make(map[chan Message]struct{}),
		closed:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send marshals and writes one message. Writes are serialized; gorilla
// websocket connections allow only one concurrent writer.
func (c *Channel) Send(m Message) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", m.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s frame: %w", m.Type, err)
	}
	return nil
}

// Subscribe returns a channel that receives inbound messages and a
// cancel func that must be called when the subscriber goes away.
func (c *Channel) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 64)

	c.listenerMu.Lock()
	c.listeners[ch] = struct{}{}
	c.listenerMu.Unlock()

	cancel := func() {
		c.listenerMu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

// Closed is closed when the underlying socket is gone, whether by a
// local Close or a remote disconnect.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

// Close shuts the channel down. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()

		c.listenerMu.Lock()
		for ch := range c.listeners {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	})
	return nil
}

// readLoop decodes inbound frames and fans them out. Malformed and
// unknown frames are logged and skipped; a read error ends the loop
// and closes the channel.
func (c *Channel) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Warnf("signaling socket closed: %v", err)
			}
			return
		}

		m, err := Decode(data)
		if err != nil {
			log.Warnf("dropping bad frame: %v", err)
			continue
		}

		c.listenerMu.RLock()
		for ch := range c.listeners {
			select {
			case ch <- m:
			default:
				log.Warnf("subscriber slow, dropping %s frame", m.Type)
			}
		}
		c.listenerMu.RUnlock()
	}
}

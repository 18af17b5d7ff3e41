package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aurelia-labs/voicecore/pkg/audio"
	"github.com/aurelia-labs/voicecore/pkg/protocol"
)

// writeTimeout bounds one outbound WebSocket write. A sink that cannot drain
// an envelope or a 90 ms audio chunk in this window is effectively gone.
const writeTimeout = 5 * time.Second

// wsConn adapts one accepted WebSocket connection to the session's Transport
// interface: JSON envelopes as text messages, audio frames as binary.
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// SendControl writes one envelope as a text message.
func (c *wsConn) SendControl(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal %s envelope: %w", env.Type, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write %s envelope: %w", env.Type, err)
	}
	return nil
}

// SendAudio writes one frame in the binary wire format.
func (c *wsConn) SendAudio(frame audio.Frame) error {
	raw, err := protocol.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageBinary, raw); err != nil {
		return fmt.Errorf("transport: write audio frame: %w", err)
	}
	return nil
}

// Close performs a normal closure. Idempotent.
func (c *wsConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		// Close reasons are capped at 123 bytes by the protocol.
		if len(reason) > 123 {
			reason = reason[:123]
		}
		c.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return nil
}

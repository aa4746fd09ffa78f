package websocket

import (
	"time"

	"schoolchat/pkg/types"
)

// KeepAlive supervises per-connection heartbeats: a {"type":"ping"}
// frame on a fixed interval for as long as the connection stays OPEN.
// A send failure ends the loop silently; removing the connection from
// the registry stays with the receive loop's termination handling so
// cleanup has exactly one owner.
type KeepAlive struct {
	interval time.Duration
}

// NewKeepAlive creates a heartbeat supervisor with the given cadence.
func NewKeepAlive(interval time.Duration) *KeepAlive {
	return &KeepAlive{interval: interval}
}

// Watch starts the heartbeat loop for conn. The loop's lifetime is
// bound to the connection: it exits by the next tick after the
// connection leaves OPEN, and immediately when it is closed.
func (k *KeepAlive) Watch(conn *Connection) {
	go k.run(conn)
}

func (k *KeepAlive) run(conn *Connection) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !conn.IsOpen() {
				return
			}
			if err := conn.WriteJSON(types.PingFrame{Type: types.FrameTypePing}); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

package ws

import "time"

// ConnInfo describes one accepted connection. It is fixed at handshake.
type ConnInfo struct {
	ConnID      string
	User        string
	DeviceID    string
	IP          string
	UserAgent   string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Age is how long the connection has been open at now.
func (i ConnInfo) Age(now time.Time) time.Duration {
	if i.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(i.ConnectedAt)
}

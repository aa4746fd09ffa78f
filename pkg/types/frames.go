package types

import "time"

// Wire frames exchanged over live connections. Inbound traffic is
// always a MessageFrame; outbound traffic is one of the three frame
// shapes below.

// MessageFrame is the inbound frame schema and the full-message
// outbound payload delivered to session-scoped peers.
type MessageFrame struct {
	SessionID int       `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Message converts an inbound frame into a persistable Message with the
// role's default read state applied.
func (f *MessageFrame) Message() *Message {
	return &Message{
		SessionID:     f.SessionID,
		Role:          f.Role,
		Content:       f.Content,
		Timestamp:     f.Timestamp,
		ReadByTeacher: f.Role.SelfAcknowledged(),
	}
}

// FrameFor builds the outbound full-message frame for a persisted message.
func FrameFor(m *Message) *MessageFrame {
	return &MessageFrame{
		SessionID: m.SessionID,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// PingFrame is the keepalive heartbeat sent every ping interval.
type PingFrame struct {
	Type string `json:"type"` // always "ping"
}

// SummaryFrame is the lightweight "new message" notification pushed to
// teacher-global connections so a dashboard can update without
// receiving full content.
type SummaryFrame struct {
	Type            string    `json:"type"` // always "new_message"
	StudentID       int       `json:"studentId"`
	SessionID       int       `json:"sessionId"`
	LastMessageTime time.Time `json:"lastMessageTime"`
}

const (
	FrameTypePing       = "ping"
	FrameTypeNewMessage = "new_message"
)

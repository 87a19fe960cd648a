package bus

import (
	"log"
	"time"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}

// Outbound is a buffered fire-and-forget queue for progress and
// observability messages. Subsystem ticks must never block on delivery, so a
// full queue drops the message with a log line instead of waiting.
type Outbound struct {
	ch chan OutboundMessage
}

func NewOutbound(size int) *Outbound {
	if size <= 0 {
		size = 64
	}
	return &Outbound{ch: make(chan OutboundMessage, size)}
}

// Publish enqueues without blocking.
func (o *Outbound) Publish(msg OutboundMessage) {
	select {
	case o.ch <- msg:
	default:
		log.Printf("[bus] outbound queue full, dropping message for chat %s", msg.ChatID)
	}
}

// Notify is the one-line form used by tools and subsystem ticks.
func (o *Outbound) Notify(chatID, text string) {
	o.Publish(OutboundMessage{ChatID: chatID, Content: text})
}

// Messages exposes the receive side for the dispatch loop.
func (o *Outbound) Messages() <-chan OutboundMessage {
	return o.ch
}

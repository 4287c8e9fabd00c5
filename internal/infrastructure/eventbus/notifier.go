package eventbus

import (
	"context"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
)

// EventTypeRealtime carries RealtimePayload to websocket subscribers.
const EventTypeRealtime = "realtime"

// RealtimePayload 实时推送载荷
type RealtimePayload struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data"`
}

// Notifier publishes pipeline notifications onto the bus. It never blocks the
// caller.
type Notifier struct {
	bus Bus
}

var _ service.Notifier = (*Notifier)(nil)

// NewNotifier 创建通知器
func NewNotifier(bus Bus) *Notifier {
	return &Notifier{bus: bus}
}

// Notify implements service.Notifier.
func (n *Notifier) Notify(channel, event string, payload any) {
	n.bus.Publish(context.Background(), NewEvent(EventTypeRealtime, RealtimePayload{
		Channel: channel,
		Event:   event,
		Data:    payload,
	}))
}

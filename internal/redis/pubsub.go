package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotsPubSub broadcasts slot occupancy changes so listeners (e.g. a
// realtime availability view) can refresh without polling.
type SlotsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewSlotsPubSub(rdb *redis.Client) *SlotsPubSub {
	return &SlotsPubSub{
		rdb:     rdb,
		channel: ChannelSlotsChanged(),
	}
}

type slotChangedMsg struct {
	Type    string `json:"type"`
	SlotID  int64  `json:"slot_id"`
	EventID int64  `json:"event_id"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *SlotsPubSub) PublishSlotChanged(ctx context.Context, slotID, eventID int64) error {
	msg := slotChangedMsg{
		Type:    "slot_changed",
		SlotID:  slotID,
		EventID: eventID,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *SlotsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, slotID, eventID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev slotChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.SlotID != 0 {
				handler(ctx, ev.SlotID, ev.EventID)
			}
		}
	}
}

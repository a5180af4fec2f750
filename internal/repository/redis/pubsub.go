package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// HoldingsPubSub fans record-level holding changes out to other
// processes, so their caches and live views stay fresh.
type HoldingsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewHoldingsPubSub(rdb *redis.Client) *HoldingsPubSub {
	return &HoldingsPubSub{
		rdb:     rdb,
		channel: ChannelHoldingsChanged(),
	}
}

type recordChangedMsg struct {
	Type     string `json:"type"`
	RecordID int64  `json:"record_id"`
	TsUnix   int64  `json:"ts_unix"`
}

func (p *HoldingsPubSub) PublishRecordChanged(ctx context.Context, recordID int64) error {
	msg := recordChangedMsg{
		Type:     "record_changed",
		RecordID: recordID,
		TsUnix:   time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *HoldingsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, recordID int64)) error {
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
			var ev recordChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.RecordID != 0 {
				handler(ctx, ev.RecordID)
			}
		}
	}
}

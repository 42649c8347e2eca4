package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

// Event tells an owner what one fire did to their accounts.
type Event struct {
	ID       string
	OwnerID  generic.OwnerID
	WakeTime generic.WakeTime
	RunID    string
	Accounts int
	// Net is the sum of net payouts over the owner's paid accounts.
	Net       decimal.Decimal
	CreatedAt time.Time
}

// NotificationSink receives one event per affected owner per fire.
// Delivery is fire-and-forget: failures are the sink's to log.
type NotificationSink interface {
	Notify(ctx context.Context, event Event)
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, e Event) {
	logger.InfoContext(ctx, "Interest notification",
		slogx.String("owner", string(e.OwnerID)),
		slogx.Stringer("wake_time", e.WakeTime),
		slogx.Int("accounts", e.Accounts),
		slogx.Stringer("net", e.Net),
	)
}

// MultiSink fans an event out to several sinks, in order.
type MultiSink []NotificationSink

func (m MultiSink) Notify(ctx context.Context, e Event) {
	for _, s := range m {
		s.Notify(ctx, e)
	}
}

package telegram

import (
	"context"
	"testing"

	"golang.org/x/time/rate"

	"happbot/pkg/logx"
)

func TestOutboundCallsGatedByLimiter(t *testing.T) {
	t.Parallel()

	// No bot and no HTTP client: if any call reaches the wire before the
	// limiter check it panics on the nil client, so a cancelled context must
	// stop every outbound method at the gate.
	c := &Client{limiter: rate.NewLimiter(1, 1), log: logx.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ref := c.SendText(ctx, 1, "hi", nil); ref != nil {
		t.Fatalf("SendText past cancelled limiter: %+v", ref)
	}
	if ref := c.SendDocument(ctx, 1, []byte("x"), "a.ovpn", "", nil); ref != nil {
		t.Fatalf("SendDocument past cancelled limiter: %+v", ref)
	}
	c.SetReaction(ctx, MessageRef{ChatID: 1, MessageID: 2}, "👍")
	c.Notify(ctx, 1, "hi")
}

package transfer

import (
	"context"
	"math/rand"
	"time"

	"github.com/danmuck/edgeshare/internal/protocol"
	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Client retries whole transfers that failed to connect. Each attempt starts
// from the beginning; identity, framing, integrity and I/O failures are final.
type Client struct {
	sender      *Sender
	maxAttempts int
	rng         *rand.Rand
}

func NewClient(sender *Sender, maxAttempts int) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Client{
		sender:      sender,
		maxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	return protocol.KindOf(err) == protocol.KindConnectivity
}

func (c *Client) Send(ctx context.Context, serverAddr, path string) (Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := c.sender.SendFile(ctx, serverAddr, path)
		if err == nil || !Retryable(err) || attempt >= c.maxAttempts {
			return res, err
		}
		log.Warn().Int("attempt", attempt).Int("max", c.maxAttempts).Str("addr", serverAddr).Err(err).
			Msg("transfer.Client retrying")
		if serr := session.SleepBackoff(ctx, c.sender.opts.Session.Backoff, attempt, c.rng); serr != nil {
			return res, err
		}
	}
}

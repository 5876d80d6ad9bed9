package main

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	gocorenats "github.com/arc-self/packages/go-core/natsclient"
	"github.com/archtrace/raceway/internal/event"
	"github.com/archtrace/raceway/internal/ingest"
)

// ingestSubject mirrors the JSON event-batch shape the HTTP /events
// endpoint accepts, supplementing it as an alternate transport for
// instrumented services that already speak JetStream (SPEC_FULL.md
// "domain stack" NATS wiring).
const (
	ingestSubject     = "DOMAIN_EVENTS.raceway.ingest"
	ingestDurableName = "raceway-ingest-consumer"
	ingestFetchBatch  = 64
	ingestFetchWait   = 5 * time.Second
)

// natsIngestConsumer pulls event batches off JetStream and feeds them
// through the same ingest.Pipeline the HTTP surface uses, so both
// transports share validation, clock computation, and back-pressure.
type natsIngestConsumer struct {
	nc       *gocorenats.Client
	pipeline *ingest.Pipeline
	logger   *zap.Logger
	sub      *nats.Subscription
}

func newNATSIngestConsumer(url string, pipeline *ingest.Pipeline, logger *zap.Logger) (*natsIngestConsumer, error) {
	nc, err := gocorenats.NewClient(url, logger)
	if err != nil {
		return nil, err
	}
	if err := nc.ProvisionStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	return &natsIngestConsumer{nc: nc, pipeline: pipeline, logger: logger}, nil
}

// Start registers a durable pull consumer and processes batches until
// ctx is cancelled.
func (c *natsIngestConsumer) Start(ctx context.Context) error {
	sub, err := c.nc.JS.PullSubscribe(ingestSubject, ingestDurableName)
	if err != nil {
		return err
	}
	c.sub = sub

	go c.loop(ctx)
	c.logger.Info("nats ingest consumer started", zap.String("subject", ingestSubject))
	return nil
}

func (c *natsIngestConsumer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(ingestFetchBatch, nats.MaxWait(ingestFetchWait))
		if err != nil {
			if err != nats.ErrTimeout {
				c.logger.Warn("nats fetch failed", zap.Error(err))
			}
			continue
		}

		for _, msg := range msgs {
			c.processBatch(ctx, msg)
		}
	}
}

func (c *natsIngestConsumer) processBatch(ctx context.Context, msg *nats.Msg) {
	events, err := event.DecodeBatch(msg.Data)
	if err != nil {
		c.logger.Error("malformed ingest batch, dropping", zap.Error(err))
		msg.Term()
		return
	}

	if _, err := c.pipeline.Ingest(ctx, events); err != nil {
		c.logger.Warn("ingest batch nak'd", zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}

func (c *natsIngestConsumer) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

package stream

import (
	"context"
	"errors"
	"time"

	"github.com/papyrus-search/papyrus/pkg/config"
	"github.com/papyrus-search/papyrus/pkg/kafka"
	"github.com/papyrus-search/papyrus/pkg/logger"
)

// errStreamDone is returned for the message the caller declined, so that
// message is not committed; cancelling the run context ends the consumer loop.
var errStreamDone = errors.New("document stream closed by caller")

// KafkaSource streams cleaned documents from the configured topic. The
// stream ends when no new message arrives within IdleTimeout, which is how
// a bounded build over a static topic terminates.
type KafkaSource struct {
	Cfg         config.KafkaConfig
	Topic       string
	IdleTimeout time.Duration
	Skipped     func(line int, err error)
}

// Run consumes the topic until idle or cancelled.
func (s *KafkaSource) Run(ctx context.Context, yield func(*Document) bool) error {
	idle := s.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	log := logger.WithComponent("kafka-source")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var seen int
	timer := time.AfterFunc(idle, cancel)
	defer timer.Stop()

	consumer := kafka.NewConsumer(s.Cfg, s.Topic, func(ctx context.Context, key, value []byte) error {
		timer.Reset(idle)
		seen++
		doc, err := ParseRecord(value)
		if err != nil {
			if s.Skipped != nil {
				s.Skipped(seen, err)
			}
			return nil
		}
		if !yield(doc) {
			cancel()
			return errStreamDone
		}
		return nil
	})
	defer consumer.Close()

	err := consumer.Start(runCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, errStreamDone) && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("kafka stream drained", "messages", seen)
	return nil
}

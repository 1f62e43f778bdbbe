package syncer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"ledgerSync/internal/chain"
	"ledgerSync/internal/model"
)

const defaultMaxReconnectDelay = time.Minute

// LogSubscriber streams new logs for an address.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, address string, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Listener stores pushed logs as they arrive. It never moves the cursor;
// the polling engine stays the source of truth for progress.
type Listener struct {
	engine     *Engine
	subscriber LogSubscriber
	logger     *zap.Logger
	// MaxReconnectDelay caps the wait between resubscription attempts.
	MaxReconnectDelay time.Duration
}

// NewListener builds a listener that decodes and stores through engine.
func NewListener(engine *Engine, subscriber LogSubscriber, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		engine:            engine,
		subscriber:        subscriber,
		logger:            logger.With(zap.String("source_address", engine.Source().Address)),
		MaxReconnectDelay: defaultMaxReconnectDelay,
	}
}

// Run subscribes and processes logs until ctx is done, resubscribing on errors.
func (l *Listener) Run(ctx context.Context) error {
	b := l.reconnectBackOff()
	for {
		err := l.listen(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		wait := b.NextBackOff()
		l.logger.Warn("log subscription ended", zap.Error(err), zap.Duration("retry_in", wait))
		if err := sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// reconnectBackOff never stops retrying. A non-positive MaxReconnectDelay
// falls back to the default cap.
func (l *Listener) reconnectBackOff() *backoff.ExponentialBackOff {
	maxDelay := l.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if maxDelay < b.InitialInterval {
		b.InitialInterval = maxDelay
	}
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (l *Listener) listen(ctx context.Context, b backoff.BackOff) error {
	ch := make(chan types.Log, 64)
	sub, err := l.subscriber.SubscribeLogs(ctx, l.engine.Source().Address, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	b.Reset()
	l.logger.Info("log subscription started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case log := <-ch:
			outcome := l.engine.ProcessLogs(ctx, []model.RawLog{chain.ToRawLog(log)}, nil)
			l.engine.metrics.eventStored(l.engine.Source(), outcome.Stored())
			if outcome.Stored() > 0 {
				l.logger.Debug("pushed log stored",
					zap.Uint64("block_number", log.BlockNumber),
					zap.String("tx_hash", log.TxHash.Hex()),
				)
			}
		}
	}
}

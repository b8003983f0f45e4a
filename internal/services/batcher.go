package services

import (
	"context"
	"time"

	"cipherchat/internal/domain/message"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"go.uber.org/zap"
)

// BatchSender is what the batcher needs from the pipeline.
type BatchSender interface {
	SendBatch(ctx context.Context, inputs []SendInput) ([]message.Message, error)
}

// BatcherConfig tunes the coalescing window.
type BatcherConfig struct {
	Window  time.Duration
	MaxSize int
}

type batchRequest struct {
	input  SendInput
	result chan batchResult
}

type batchResult struct {
	msg message.Message
	err error
}

// Batcher coalesces individual sends into multi-row inserts. A batch
// flushes when it reaches MaxSize or when Window elapses since its
// first message, whichever comes first. A whole batch commits or
// fails together, and every waiter learns the outcome.
type Batcher struct {
	sender BatchSender
	log    *logger.Logger
	cfg    BatcherConfig

	requests chan batchRequest
	done     chan struct{}
}

func NewBatcher(sender BatchSender, log *logger.Logger, cfg BatcherConfig) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 64
	}
	return &Batcher{
		sender:   sender,
		log:      log,
		cfg:      cfg,
		requests: make(chan batchRequest, cfg.MaxSize),
		done:     make(chan struct{}),
	}
}

// Enqueue submits a message and blocks until its batch is flushed or
// ctx is cancelled. Cancelling ctx abandons the wait, not the write:
// the message may still commit with its batch.
func (b *Batcher) Enqueue(ctx context.Context, in SendInput) (message.Message, error) {
	select {
	case <-b.done:
		return message.Message{}, cipherchat_errors.ErrServiceUnavailable
	default:
	}

	req := batchRequest{input: in, result: make(chan batchResult, 1)}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.msg, res.err
	case <-b.done:
		// Shutdown raced the flush; the result may already be there.
		select {
		case res := <-req.result:
			return res.msg, res.err
		default:
			return message.Message{}, cipherchat_errors.ErrServiceUnavailable
		}
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

// Run drains the request channel until ctx is cancelled. On shutdown
// the pending batch is flushed whole before returning.
func (b *Batcher) Run(ctx context.Context) {
	defer close(b.done)

	var (
		pending []batchRequest
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case req := <-b.requests:
			pending = append(pending, req)
			if len(pending) >= b.cfg.MaxSize {
				stopTimer()
				b.flush(pending)
				pending = nil
			} else if timer == nil {
				timer = time.NewTimer(b.cfg.Window)
				timerC = timer.C
			}

		case <-timerC:
			timer = nil
			timerC = nil
			b.flush(pending)
			pending = nil

		case <-ctx.Done():
			stopTimer()
			// Drain what is already queued so no waiter is stranded.
			for {
				select {
				case req := <-b.requests:
					pending = append(pending, req)
					continue
				default:
				}
				break
			}
			b.flush(pending)
			return
		}
	}
}

func (b *Batcher) flush(batch []batchRequest) {
	if len(batch) == 0 {
		return
	}

	inputs := make([]SendInput, 0, len(batch))
	for _, req := range batch {
		inputs = append(inputs, req.input)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := b.sender.SendBatch(flushCtx, inputs)
	if err != nil {
		b.log.Error(flushCtx, "batch flush failed",
			zap.Int("size", len(batch)), zap.Error(err))
		for _, req := range batch {
			req.result <- batchResult{err: err}
		}
		return
	}

	for i, req := range batch {
		req.result <- batchResult{msg: msgs[i]}
	}
}

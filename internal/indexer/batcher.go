package indexer

import (
	"context"
	"time"

	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// Batcher coalesces embedding requests from concurrent file workers into
// provider batches. A batch flushes when it reaches the configured size or
// when the window elapses with requests pending, whichever comes first.
type Batcher struct {
	embedder embed.Embedder
	size     int
	window   time.Duration
	requests chan batchRequest
	done     chan struct{}
}

type batchRequest struct {
	ctx   context.Context
	text  string
	reply chan batchReply
}

type batchReply struct {
	vec []float32
	err error
}

func NewBatcher(embedder embed.Embedder, size int, window time.Duration) *Batcher {
	if size <= 0 {
		size = embed.DefaultBatchSize
	}
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	b := &Batcher{
		embedder: embedder,
		size:     size,
		window:   window,
		requests: make(chan batchRequest, size*2),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Embed queues one text and blocks until its batch is processed.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	reply := make(chan batchReply, 1)
	select {
	case b.requests <- batchRequest{ctx: ctx, text: text, reply: reply}:
	case <-ctx.Done():
		return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, ctx.Err())
	case <-b.done:
		return nil, mnerr.New(mnerr.KindEmbedUnavailable, "batcher closed")
	}
	select {
	case r := <-reply:
		return r.vec, r.err
	case <-ctx.Done():
		return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, ctx.Err())
	case <-b.done:
		select {
		case r := <-reply:
			return r.vec, r.err
		default:
		}
		return nil, mnerr.New(mnerr.KindEmbedUnavailable, "batcher closed")
	}
}

// Close stops the flush loop. Pending requests are failed, not dropped.
func (b *Batcher) Close() {
	close(b.done)
}

func (b *Batcher) run() {
	var pending []batchRequest
	timer := time.NewTimer(b.window)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.flush(pending)
		pending = nil
	}

	for {
		select {
		case req := <-b.requests:
			if len(pending) == 0 {
				timer.Reset(b.window)
			}
			pending = append(pending, req)
			if len(pending) >= b.size {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush()
			}
		case <-timer.C:
			flush()
		case <-b.done:
			for _, req := range pending {
				req.reply <- batchReply{err: mnerr.New(mnerr.KindEmbedUnavailable, "batcher closed")}
			}
			return
		}
	}
}

func (b *Batcher) flush(batch []batchRequest) {
	// Use the first live request context; a cancelled one fails only its
	// own caller.
	ctx := context.Background()
	for _, req := range batch {
		if req.ctx.Err() == nil {
			ctx = req.ctx
			break
		}
	}

	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, req := range batch {
			req.reply <- batchReply{err: err}
		}
		return
	}
	if len(vecs) != len(batch) {
		err := mnerr.Newf(mnerr.KindEmbedUnavailable, "provider returned %d vectors for %d inputs", len(vecs), len(batch))
		for _, req := range batch {
			req.reply <- batchReply{err: err}
		}
		return
	}
	for i, req := range batch {
		req.reply <- batchReply{vec: vecs[i]}
	}
}

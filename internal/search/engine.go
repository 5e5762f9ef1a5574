package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mnemolite/mnemolite/internal/breaker"
	"github.com/mnemolite/mnemolite/internal/cache"
	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/store"
)

// LexicalFunc retrieves the lexical candidate list for a query. Callers bind
// their scope filters into the closure.
type LexicalFunc func(ctx context.Context, text string, limit int) ([]store.LexicalHit, error)

// VectorFunc retrieves the cosine k-NN candidate list for a query embedding.
type VectorFunc func(ctx context.Context, embedding []float32, limit int) ([]store.VectorHit, error)

// ChannelState reports one retrieval channel's outcome.
type ChannelState string

const (
	ChannelOK      ChannelState = "ok"
	ChannelFailed  ChannelState = "failed"
	ChannelSkipped ChannelState = "skipped" // breaker open or deadline hit first
)

// ChannelStatus is the per-channel envelope in a response.
type ChannelStatus struct {
	State ChannelState
	Err   string
}

// Response is a fused retrieval result with degradation flags.
type Response struct {
	Candidates []Candidate
	Degraded   bool // one channel unavailable; ranking is single-sided
	Partial    bool // deadline cut the slower channel
	Lexical    ChannelStatus
	Vector     ChannelStatus
}

// Request is one hybrid retrieval call.
type Request struct {
	Query     string
	FilterKey string // canonical rendering of the bound filters, for caching
	Limit     int
	K0        int
}

// Options configures an Engine.
type Options struct {
	LexicalTopK int
	VectorTopK  int
	Deadline    time.Duration
	Logger      *slog.Logger
}

// Engine runs both retrieval channels in parallel under breakers and a
// latency budget, fuses with RRF, and caches full responses by request
// fingerprint.
type Engine struct {
	embedder    embed.Embedder // text channel, used for query embeddings
	breakers    *breaker.Registry
	cache       *cache.Cache[*Response]
	lexicalTopK int
	vectorTopK  int
	deadline    time.Duration
	logger      *slog.Logger
}

func NewEngine(embedder embed.Embedder, breakers *breaker.Registry, responses *cache.Cache[*Response], opts Options) *Engine {
	if opts.LexicalTopK <= 0 {
		opts.LexicalTopK = 50
	}
	if opts.VectorTopK <= 0 {
		opts.VectorTopK = 50
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		embedder:    embedder,
		breakers:    breakers,
		cache:       responses,
		lexicalTopK: opts.LexicalTopK,
		vectorTopK:  opts.VectorTopK,
		deadline:    opts.Deadline,
		logger:      opts.Logger,
	}
}

// InvalidateCache drops every cached response. Call after writes that
// change corpus membership, like a repository purge.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// CacheKey builds the canonical request fingerprint. Secrets never enter it.
func (e *Engine) CacheKey(req Request) string {
	return cache.Fingerprint(
		"q="+req.Query,
		"f="+req.FilterKey,
		fmt.Sprintf("limit=%d", req.Limit),
		fmt.Sprintf("k0=%d", req.K0),
	)
}

// Search executes a hybrid retrieval request.
//
// An already-expired context returns DeadlineExceeded before any I/O. If the
// budget elapses while one channel is still running, the completed side is
// returned with Partial set. A channel whose breaker is open is skipped and
// the response marked Degraded. Both channels failing or skipped yields
// RetrievalUnavailable.
func (e *Engine) Search(ctx context.Context, req Request, lexFn LexicalFunc, vecFn VectorFunc) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, mnerr.New(mnerr.KindBadRequest, "query text is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, err)
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.After(time.Now()) {
		return nil, mnerr.New(mnerr.KindDeadlineExceeded, "deadline already expired")
	}

	build := func(ctx context.Context) (*Response, error) {
		return e.search(ctx, req, lexFn, vecFn)
	}
	if e.cache != nil {
		return e.cache.GetOrBuild(ctx, e.CacheKey(req), build)
	}
	return build(ctx)
}

type lexResult struct {
	hits []store.LexicalHit
	err  error
}

type vecResult struct {
	hits []store.VectorHit
	err  error
}

func (e *Engine) search(ctx context.Context, req Request, lexFn LexicalFunc, vecFn VectorFunc) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	lexCh := make(chan lexResult, 1)
	vecCh := make(chan vecResult, 1)

	go func() {
		br := e.breakers.Get(breaker.DepLexical)
		hits, err := breaker.Do(br, func() ([]store.LexicalHit, error) {
			return lexFn(ctx, req.Query, e.lexicalTopK)
		})
		lexCh <- lexResult{hits: hits, err: err}
	}()

	go func() {
		br := e.breakers.Get(breaker.DepVector)
		hits, err := breaker.Do(br, func() ([]store.VectorHit, error) {
			vec, err := e.embedder.Embed(ctx, req.Query)
			if err != nil {
				return nil, err
			}
			return vecFn(ctx, vec, e.vectorTopK)
		})
		vecCh <- vecResult{hits: hits, err: err}
	}()

	resp := &Response{
		Lexical: ChannelStatus{State: ChannelSkipped},
		Vector:  ChannelStatus{State: ChannelSkipped},
	}

	var lex lexResult
	var vec vecResult
	lexReceived, vecReceived := false, false
	waiting := true
	for waiting && !(lexReceived && vecReceived) {
		select {
		case lex = <-lexCh:
			lexReceived = true
		case vec = <-vecCh:
			vecReceived = true
		case <-ctx.Done():
			// Budget elapsed; return whichever side completed.
			if !lexReceived && !vecReceived {
				return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, ctx.Err())
			}
			resp.Partial = true
			waiting = false
		}
	}

	applyLex(resp, lex, lexReceived)
	applyVec(resp, vec, vecReceived)

	if resp.Lexical.State != ChannelOK && resp.Vector.State != ChannelOK {
		return nil, mnerr.Newf(mnerr.KindRetrievalUnavailable,
			"both retrieval channels failed (lexical: %s, vector: %s)",
			resp.Lexical.Err, resp.Vector.Err)
	}
	resp.Degraded = resp.Lexical.State != ChannelOK || resp.Vector.State != ChannelOK

	if resp.Degraded {
		e.logger.Warn("search_degraded",
			slog.String("lexical", string(resp.Lexical.State)),
			slog.String("vector", string(resp.Vector.State)),
			slog.Bool("partial", resp.Partial))
	}

	resp.Candidates = Clip(FuseRRF(lex.hits, vec.hits, req.K0), req.Limit)
	return resp, nil
}

func applyLex(resp *Response, lex lexResult, received bool) {
	resp.Lexical = channelStatus(lex.err, received)
}

func applyVec(resp *Response, vec vecResult, received bool) {
	resp.Vector = channelStatus(vec.err, received)
}

func channelStatus(err error, received bool) ChannelStatus {
	switch {
	case !received:
		return ChannelStatus{State: ChannelSkipped, Err: "deadline"}
	case err == nil:
		return ChannelStatus{State: ChannelOK}
	case mnerr.IsKind(err, mnerr.KindBreakerOpen):
		return ChannelStatus{State: ChannelSkipped, Err: err.Error()}
	default:
		return ChannelStatus{State: ChannelFailed, Err: err.Error()}
	}
}

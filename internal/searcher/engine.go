// Package searcher executes ranked queries against an open index. It wires
// the planner, posting decoder, phrase matcher, and ranker together and
// layers the optional query-result cache and metadata store on top.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/papyrus-search/papyrus/internal/index"
	"github.com/papyrus-search/papyrus/internal/metadata"
	"github.com/papyrus-search/papyrus/internal/searcher/planner"
	"github.com/papyrus-search/papyrus/internal/searcher/phrase"
	"github.com/papyrus-search/papyrus/internal/searcher/ranker"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/logger"
	"github.com/papyrus-search/papyrus/pkg/metrics"
	"github.com/papyrus-search/papyrus/pkg/tracing"
)

// Result is one ranked document.
type Result struct {
	ExtID   string            `json:"ext_id"`
	DocID   uint32            `json:"doc_id"`
	Final   float64           `json:"final_score"`
	BM25    float64           `json:"bm25_component"`
	Recency float64           `json:"recency_component"`
	TFs     map[string]uint32 `json:"matched_tf,omitempty"`
	Title   string            `json:"title,omitempty"`
	PubDate string            `json:"pub_date,omitempty"`
}

// Response is a completed query. TimedOut marks best-effort partial results
// produced after the deadline expired mid-decode.
type Response struct {
	Results   []Result `json:"results"`
	ElapsedMS float64  `json:"elapsed_ms"`
	TimedOut  bool     `json:"timed_out"`
}

// Engine answers OR, AND, and PHRASE queries. Safe for concurrent use.
type Engine struct {
	idx     *index.Index
	ranker  *ranker.Ranker
	cache   *QueryCache
	meta    *metadata.Store
	metrics *metrics.Metrics
	stats   *Stats
	queryID atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache attaches a query-result cache.
func WithCache(c *QueryCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetadata overrides forward-index metadata with the external store.
func WithMetadata(m *metadata.Store) Option {
	return func(e *Engine) { e.meta = m }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over an open index.
func New(idx *index.Index, opts ...Option) *Engine {
	e := &Engine{
		idx:    idx,
		ranker: ranker.New(idx.N(), idx.AvgDocLen),
		stats:  NewStats(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats exposes the per-mode performance counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// SearchOR returns documents matching any query term.
func (e *Engine) SearchOR(ctx context.Context, query string, topK int) (*Response, error) {
	return e.search(ctx, query, planner.ModeOR, topK)
}

// SearchAND returns documents matching every query term.
func (e *Engine) SearchAND(ctx context.Context, query string, topK int) (*Response, error) {
	return e.search(ctx, query, planner.ModeAND, topK)
}

// SearchPhrase returns documents containing the query terms consecutively
// in order.
func (e *Engine) SearchPhrase(ctx context.Context, query string, topK int) (*Response, error) {
	return e.search(ctx, query, planner.ModePhrase, topK)
}

func (e *Engine) search(ctx context.Context, query string, mode planner.Mode, topK int) (*Response, error) {
	qid := fmt.Sprintf("q%d", e.queryID.Add(1))
	ctx = logger.WithQueryID(ctx, qid)
	ctx, span := tracing.StartSpan(ctx, "search."+string(mode), qid)
	defer func() {
		span.End()
		span.Log()
	}()
	span.SetAttr("query", query)

	if e.cache != nil {
		if resp, ok := e.cache.Get(ctx, string(mode), query, topK); ok {
			span.SetAttr("cache", "hit")
			return resp, nil
		}
	}

	start := time.Now()
	resp, err := e.execute(ctx, query, mode, topK)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case resp.TimedOut:
		outcome = "timeout"
	case len(resp.Results) == 0:
		outcome = "empty"
	}
	if e.metrics != nil {
		e.metrics.QueryLatency.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
		e.metrics.QueriesTotal.WithLabelValues(string(mode), outcome).Inc()
		if err == nil {
			e.metrics.QueryResultsCount.Observe(float64(len(resp.Results)))
		}
	}
	e.stats.Record(mode, elapsed)
	if err != nil {
		return nil, err
	}

	resp.ElapsedMS = float64(elapsed.Microseconds()) / 1000.0
	if e.cache != nil && !resp.TimedOut {
		e.cache.Set(ctx, string(mode), query, topK, resp)
	}
	return resp, nil
}

func (e *Engine) execute(ctx context.Context, query string, mode planner.Mode, topK int) (*Response, error) {
	_, planSpan := tracing.StartChildSpan(ctx, "plan")
	plan := planner.Build(query, mode, e.idx.Lexicon)
	planSpan.End()
	if plan.Empty {
		return &Response{Results: []Result{}}, nil
	}

	fetchCtx, fetchSpan := tracing.StartChildSpan(ctx, "fetch")
	if err := e.idx.Cache.Preload(plan.BarrelIDs()); err != nil {
		fetchSpan.End()
		return nil, err
	}
	lists, timedOut, err := e.decodeAll(fetchCtx, plan)
	fetchSpan.End()
	if err != nil {
		return nil, err
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	defer rankSpan.End()
	switch mode {
	case planner.ModePhrase:
		return e.rankPhrase(plan, lists, timedOut, topK), nil
	default:
		return e.rankBoolean(plan, lists, mode, timedOut, topK), nil
	}
}

// decodeAll fully decodes every planned term's posting list. A deadline hit
// mid-list truncates that list and flags the response instead of failing.
func (e *Engine) decodeAll(ctx context.Context, plan *planner.Plan) ([][]index.Posting, bool, error) {
	lists := make([][]index.Posting, len(plan.Entries))
	timedOut := false
	for i, entry := range plan.Entries {
		dec, handle, err := e.idx.Postings(ctx, entry)
		if err != nil {
			return nil, false, err
		}
		postings, err := dec.All(ctx)
		handle.Release()
		if err != nil {
			if errors.Is(err, apperrors.ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
				logger.FromContext(ctx).Warn("query deadline hit while decoding",
					"term", entry.Term, "decoded", len(postings))
				lists[i] = postings
				timedOut = true
				continue
			}
			return nil, false, err
		}
		lists[i] = postings
	}
	return lists, timedOut, nil
}

type accumulator struct {
	bm25     float64
	terms    int
	tfs      map[string]uint32
	firstPos uint32
}

func (e *Engine) rankBoolean(plan *planner.Plan, lists [][]index.Posting, mode planner.Mode, timedOut bool, topK int) *Response {
	docs := make(map[uint32]*accumulator)
	for i, list := range lists {
		term := plan.Terms[i]
		df := plan.Entries[i].DF
		for _, p := range list {
			info := e.idx.Docs[p.DocID]
			boost := ranker.FieldBoost(p.Positions[0], info.Length)
			score := e.ranker.BM25(p.TF, df, info.Length) * boost

			acc, ok := docs[p.DocID]
			if !ok {
				acc = &accumulator{tfs: make(map[string]uint32, len(lists))}
				docs[p.DocID] = acc
			}
			acc.bm25 += score
			acc.terms++
			acc.tfs[term] = p.TF
		}
	}

	scored := make([]ranker.Scored, 0, len(docs))
	tfs := make(map[uint32]map[string]uint32, len(docs))
	for docID, acc := range docs {
		if mode == planner.ModeAND && acc.terms < len(lists) {
			continue
		}
		recency := e.recency(docID)
		scored = append(scored, ranker.Scored{
			DocID:   docID,
			Final:   ranker.Combine(acc.bm25, recency),
			BM25:    acc.bm25,
			Recency: recency,
		})
		tfs[docID] = acc.tfs
	}
	scored = ranker.SortAndTruncate(scored, topK)
	return e.buildResponse(scored, tfs, timedOut)
}

func (e *Engine) rankPhrase(plan *planner.Plan, lists [][]index.Posting, timedOut bool, topK int) *Response {
	matches := phrase.Find(lists)
	scored := make([]ranker.Scored, 0, len(matches))
	for _, m := range matches {
		info := e.idx.Docs[m.DocID]
		base := ranker.PhraseBaseScore * ranker.FieldBoost(m.StartPos, info.Length)
		recency := e.recency(m.DocID)
		scored = append(scored, ranker.Scored{
			DocID:   m.DocID,
			Final:   ranker.Combine(base, recency),
			BM25:    base,
			Recency: recency,
		})
	}
	scored = ranker.SortAndTruncate(scored, topK)
	return e.buildResponse(scored, nil, timedOut)
}

func (e *Engine) recency(docID uint32) float64 {
	return e.ranker.Recency(e.docMeta(docID).PubDate)
}

// docMeta resolves display metadata, preferring the external store when
// configured.
func (e *Engine) docMeta(docID uint32) index.DocInfo {
	info := e.idx.Docs[docID]
	if e.meta != nil {
		if ext, ok := e.idx.Registry.ExtID(docID); ok {
			if m, err := e.meta.Lookup(context.Background(), ext); err == nil && m != nil {
				if m.Title != "" {
					info.Title = m.Title
				}
				if m.PubDate != "" {
					info.PubDate = m.PubDate
				}
				if len(m.Authors) > 0 {
					info.Authors = m.Authors
				}
			}
		}
	}
	return info
}

func (e *Engine) buildResponse(scored []ranker.Scored, tfs map[uint32]map[string]uint32, timedOut bool) *Response {
	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		ext, _ := e.idx.Registry.ExtID(s.DocID)
		info := e.docMeta(s.DocID)
		r := Result{
			ExtID:   ext,
			DocID:   s.DocID,
			Final:   s.Final,
			BM25:    s.BM25,
			Recency: s.Recency,
			Title:   info.Title,
			PubDate: info.PubDate,
		}
		if tfs != nil {
			r.TFs = tfs[s.DocID]
		}
		results = append(results, r)
	}
	return &Response{Results: results, TimedOut: timedOut}
}

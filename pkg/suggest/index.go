package suggest

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a populated dataset counts as fresh for a
// non-forced refresh.
const DefaultTTL = 24 * time.Hour

// Item is one searchable record. Value is both the display string and the
// identity of the item within a dataset.
type Item struct {
	Value string            `json:"value" msgpack:"v"`
	Count int               `json:"count,omitempty" msgpack:"c,omitempty"`
	Meta  map[string]string `json:"meta,omitempty" msgpack:"m,omitempty"`
}

// Source describes where a dataset is fetched from.
type Source struct {
	Name string
	URL  string
}

func (s Source) String() string {
	if s.Name == "" {
		return s.URL
	}
	return s.Name + " (" + s.URL + ")"
}

// IsZero reports whether no source was set.
func (s Source) IsZero() bool { return s.URL == "" }

// Fetcher retrieves the raw items of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]Item, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, src Source) ([]Item, error)

func (f FetcherFunc) Fetch(ctx context.Context, src Source) ([]Item, error) { return f(ctx, src) }

// State is the refresh state of an index.
type State int

const (
	Idle State = iota
	Refreshing
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Options tune an Index. Zero values pick the defaults.
type Options struct {
	Name string
	// TTL bounds how long a non-forced refresh may skip fetching.
	// Negative disables expiry entirely.
	TTL time.Duration
	// Timeout caps a single fetch. Zero means no timeout beyond the caller's context.
	Timeout time.Duration
	Logger  *log.Logger
}

// QueryOptions controls a query. Limit <= 0 returns every match.
// Less, when set, reorders matches before the limit applies; ties keep
// dataset order.
type QueryOptions struct {
	Limit int
	Less  func(a, b Item) bool
}

// Index is a tokenized, queryable snapshot of a remote dataset with an
// explicit refresh lifecycle. Queries never block on I/O and never observe a
// partially built snapshot. At most one fetch runs per Index at a time.
type Index struct {
	name    string
	fetcher Fetcher
	ttl     time.Duration
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu         sync.Mutex
	source     Source
	kind       TokenizerKind
	sourceVer  uint64
	epoch      uint64
	generation uint64
	state      State
	lastErr    error
	round      uint64
	announced  uint64
	last       *outcome

	snap   atomic.Pointer[snapshot]
	flight singleflight.Group
	hooks  hooks
}

// NewIndex creates an empty index. Nothing is fetched until Refresh.
func NewIndex(fetcher Fetcher, opts Options) *Index {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix(opts.Name)
	}
	x := &Index{
		name:    opts.Name,
		fetcher: fetcher,
		ttl:     ttl,
		timeout: opts.Timeout,
		logger:  logger,
		now:     time.Now,
	}
	x.snap.Store(emptySnapshot(0))
	return x
}

// Name returns the label given at construction.
func (x *Index) Name() string { return x.name }

// Configure sets where the next refresh fetches from and how items are
// tokenized. It never fetches; an in-flight refresh notices the change and
// fetches again from the new source before it completes.
func (x *Index) Configure(src Source, kind TokenizerKind) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if src == x.source && kind == x.kind {
		return
	}
	x.source = src
	x.kind = kind
	x.sourceVer++
	x.logger.Debug("configured", "source", src.URL, "tokenizer", kind)
}

// Source returns the currently configured source.
func (x *Index) Source() Source {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.source
}

// Tokenizer returns the currently configured tokenizer kind.
func (x *Index) Tokenizer() TokenizerKind {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.kind
}

// State returns the current refresh state.
func (x *Index) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// LastError returns the error of the most recent failed refresh, or nil once
// a refresh succeeds.
func (x *Index) LastError() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.lastErr
}

// Generation returns the generation of the visible dataset. It starts at 0
// and grows with every successful refresh and every Invalidate.
func (x *Index) Generation() uint64 {
	return x.snap.Load().generation
}

// Len returns the number of items in the visible dataset.
func (x *Index) Len() int {
	return len(x.snap.Load().items)
}

// FetchedAt returns when the visible dataset was fetched.
func (x *Index) FetchedAt() time.Time {
	return x.snap.Load().fetchedAt
}

// Refresh fetches the configured source and swaps in the new dataset.
// A non-forced refresh returns immediately while the dataset is Ready and
// younger than the TTL. Concurrent calls share one fetch. On failure the
// previous dataset stays queryable and the state becomes Error.
//
// A nil result means the visible dataset was fetched from the source that
// was configured when Refresh returned.
func (x *Index) Refresh(ctx context.Context, force bool) error {
	for {
		if err := x.refreshRound(ctx, force); err != nil {
			return err
		}
		if !x.outdated() {
			return nil
		}
		x.logger.Debug("source changed after the dataset was swapped in, refetching")
		force = true
	}
}

// outdated reports whether the visible dataset was built for another source
// or tokenizer than the configured one.
func (x *Index) outdated() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	s := x.snap.Load()
	return s.populated && (s.source != x.source || s.kind != x.kind)
}

// refreshRound joins the current round's flight or starts it. Rounds are
// numbered; a round finishes when its result is published, so a call made
// after that always starts a new fetch. The caller that announced a round
// delivers its events once the flight has been released, which lets
// handlers call Refresh themselves.
func (x *Index) refreshRound(ctx context.Context, force bool) error {
	x.mu.Lock()
	if !force && x.freshLocked() {
		x.mu.Unlock()
		x.logger.Debug("refresh skipped, dataset still fresh")
		return nil
	}
	if x.source.IsZero() {
		x.mu.Unlock()
		return ErrNoSource
	}
	round := x.round
	announce := x.announced <= round
	if announce {
		x.announced = round + 1
	}
	started := Event{Type: RefreshStarted, Index: x.name, Source: x.source, Generation: x.snap.Load().generation}
	x.mu.Unlock()

	ch := x.flight.DoChan(strconv.FormatUint(round, 10), func() (any, error) {
		return x.run(context.WithoutCancel(ctx), round), nil
	})
	if !announce {
		select {
		case res := <-ch:
			return res.Val.(*outcome).err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	x.emit(started)
	select {
	case res := <-ch:
		out := res.Val.(*outcome)
		x.emitAll(out.events)
		return out.err
	case <-ctx.Done():
		go func() {
			res := <-ch
			x.emitAll(res.Val.(*outcome).events)
		}()
		return ctx.Err()
	}
}

// RefreshAsync runs Refresh in the background and delivers its result on
// the returned channel.
func (x *Index) RefreshAsync(ctx context.Context, force bool) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- x.Refresh(ctx, force)
		close(done)
	}()
	return done
}

func (x *Index) freshLocked() bool {
	if x.state != Ready {
		return false
	}
	s := x.snap.Load()
	if !s.populated || s.source != x.source || s.kind != x.kind {
		return false
	}
	return x.ttl < 0 || x.now().Sub(s.fetchedAt) < x.ttl
}

// outcome is the published result of one refresh round.
type outcome struct {
	err    error
	events []Event
}

// finishLocked publishes out as the result of the current round.
func (x *Index) finishLocked(out *outcome) *outcome {
	x.round++
	x.last = out
	return out
}

// run performs the fetch loop of round. When the source changes while a
// fetch is outstanding, that result is thrown away and the new source is
// fetched instead. It never calls event handlers.
func (x *Index) run(ctx context.Context, round uint64) *outcome {
	x.mu.Lock()
	if x.round != round {
		// round was published before this flight began
		out := x.last
		x.mu.Unlock()
		return out
	}
	prev := x.state
	x.mu.Unlock()

	for attempt := 0; ; attempt++ {
		x.mu.Lock()
		src, kind, ver, epoch := x.source, x.kind, x.sourceVer, x.epoch
		if src.IsZero() {
			x.state = prev
			out := x.finishLocked(&outcome{err: ErrNoSource})
			x.mu.Unlock()
			return out
		}
		x.state = Refreshing
		gen := x.snap.Load().generation
		x.mu.Unlock()

		x.logger.Debug("fetching", "source", src.URL, "attempt", attempt+1)
		items, err := x.fetch(ctx, src)
		var next *snapshot
		if err == nil {
			next = buildSnapshot(src, kind, items, x.now())
		}

		x.mu.Lock()
		if x.sourceVer != ver {
			x.mu.Unlock()
			x.logger.Debug("source changed during fetch, refetching", "stale", src.URL)
			continue
		}
		if x.epoch != epoch {
			x.state = Idle
			out := x.finishLocked(&outcome{err: ErrDiscarded})
			x.mu.Unlock()
			x.logger.Debug("index invalidated during fetch, dropping result", "source", src.URL)
			return out
		}
		if err != nil {
			rerr := asRefreshError(src.String(), err)
			x.state = Error
			x.lastErr = rerr
			out := x.finishLocked(&outcome{
				err:    rerr,
				events: []Event{{Type: RefreshFailed, Index: x.name, Source: src, Generation: gen, Err: rerr}},
			})
			x.mu.Unlock()
			x.logger.Warn("refresh failed", "source", src.URL, "kind", rerr.Kind, "err", err)
			return out
		}
		x.generation++
		next.generation = x.generation
		x.snap.Store(next)
		x.state = Ready
		x.lastErr = nil
		out := x.finishLocked(&outcome{
			events: []Event{{Type: RefreshSucceeded, Index: x.name, Source: src, Generation: next.generation, Count: len(next.items)}},
		})
		x.mu.Unlock()

		x.logger.Debug("refreshed", "source", src.URL, "items", len(next.items), "tokens", next.tokens, "generation", next.generation)
		return out
	}
}

func (x *Index) fetch(ctx context.Context, src Source) ([]Item, error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	items, err := x.fetcher.Fetch(ctx, src)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, NewFetchError(src.String(), err)
	}
	return items, err
}

// Invalidate drops the dataset and its token index and sets the state to
// Idle. It does not fetch. A refresh in flight when Invalidate is called
// returns ErrDiscarded instead of repopulating the index.
func (x *Index) Invalidate() {
	x.mu.Lock()
	x.epoch++
	x.generation++
	gen := x.generation
	x.snap.Store(emptySnapshot(gen))
	x.state = Idle
	x.lastErr = nil
	x.mu.Unlock()

	x.logger.Debug("invalidated", "generation", gen)
	x.emit(Event{Type: Invalidated, Index: x.name, Generation: gen})
}

// Query returns up to limit items matching text. See QueryWith.
func (x *Index) Query(text string, limit int) []Item {
	return x.QueryWith(text, QueryOptions{Limit: limit})
}

// QueryWith answers a query against the visible dataset. Empty text returns
// every item. Otherwise text is tokenized like the dataset was, and an item
// matches when each query token is a case-insensitive prefix of one of the
// item's tokens. Text made only of separators matches items whose value
// equals it, ignoring case. Results keep dataset order unless opts.Less is set.
// An index that was never populated yields an empty result.
func (x *Index) QueryWith(text string, opts QueryOptions) []Item {
	s := x.snap.Load()
	if !s.populated {
		return []Item{}
	}

	var positions []int
	if text == "" {
		positions = make([]int, len(s.items))
		for i := range positions {
			positions[i] = i
		}
	} else if tokens := uniqueTokens(Tokenize(s.kind, text)); len(tokens) > 0 {
		positions = s.match(tokens)
	} else {
		positions = s.exact(text)
	}

	if opts.Less != nil {
		sort.SliceStable(positions, func(i, j int) bool {
			return opts.Less(s.items[positions[i]], s.items[positions[j]])
		})
	}
	if opts.Limit > 0 && len(positions) > opts.Limit {
		positions = positions[:opts.Limit]
	}

	out := make([]Item, len(positions))
	for i, pos := range positions {
		it := s.items[pos]
		it.Meta = maps.Clone(it.Meta)
		out[i] = it
	}
	return out
}

// Stats reports counters about the visible dataset.
func (x *Index) Stats() map[string]int {
	s := x.snap.Load()
	x.mu.Lock()
	state := x.state
	x.mu.Unlock()
	return map[string]int{
		"items":      len(s.items),
		"tokens":     s.tokens,
		"generation": int(s.generation),
		"state":      int(state),
	}
}

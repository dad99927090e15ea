package suggest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

func items(values ...string) []Item {
	out := make([]Item, len(values))
	for i, v := range values {
		out[i] = Item{Value: v}
	}
	return out
}

func valuesOf(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}

func staticFetcher(data []Item) FetcherFunc {
	return func(context.Context, Source) ([]Item, error) {
		return data, nil
	}
}

func newReadyIndex(t *testing.T, kind TokenizerKind, data []Item) *Index {
	t.Helper()
	x := NewIndex(staticFetcher(data), Options{Name: "test"})
	x.Configure(Source{Name: "test", URL: "/data/test"}, kind)
	require.NoError(t, x.Refresh(context.Background(), true))
	return x
}

func TestQueryBeforeRefreshIsEmpty(t *testing.T) {
	x := NewIndex(staticFetcher(items("a")), Options{Name: "empty"})

	assert.Equal(t, uint64(0), x.Generation())
	assert.Equal(t, Idle, x.State())
	assert.Empty(t, x.Query("", 10))
	assert.Empty(t, x.Query("a", 10))
}

func TestRefreshWithoutSource(t *testing.T) {
	x := NewIndex(staticFetcher(items("a")), Options{})
	err := x.Refresh(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestQueryEmptyReturnsAllInOrder(t *testing.T) {
	data := items("zulu", "alpha", "mike", "bravo")
	x := newReadyIndex(t, Whitespace, data)

	assert.Equal(t, []string{"zulu", "alpha", "mike", "bravo"}, valuesOf(x.Query("", 0)))
	assert.Equal(t, []string{"zulu", "alpha"}, valuesOf(x.Query("", 2)))
}

func TestQueryFindsEveryItemByItsValue(t *testing.T) {
	data := items("Week 1 Sat 0200", "Week 1 Sun 0200", "Week 2 Sat 0400", "never", "Week-3")
	x := newReadyIndex(t, Whitespace, data)

	for _, it := range data {
		assert.Contains(t, valuesOf(x.Query(it.Value, 0)), it.Value)
	}
}

func TestQueryIsConjunctive(t *testing.T) {
	x := newReadyIndex(t, NonWord, items("alpha-east", "alpha-west", "beta-east"))

	assert.Equal(t, []string{"alpha-east"}, valuesOf(x.Query("alpha east", 10)))
	assert.Equal(t, []string{"alpha-east", "alpha-west"}, valuesOf(x.Query("alpha", 10)))
	assert.Equal(t, []string{"alpha-east", "beta-east"}, valuesOf(x.Query("ea", 10)))
	assert.Empty(t, x.Query("alpha gamma", 10))
}

func TestQueryPrefixAndCase(t *testing.T) {
	x := newReadyIndex(t, NonWord, items("Profile::Patching", "role::webserver", "patch_mgmt"))

	assert.Equal(t, []string{"Profile::Patching", "patch_mgmt"}, valuesOf(x.Query("PAT", 10)))
	assert.Equal(t, []string{"role::webserver"}, valuesOf(x.Query("web", 10)))
	assert.Empty(t, x.Query("server", 10), "matching is by token prefix, not substring")
	assert.Empty(t, x.Query("::", 10))
}

func TestQuerySeparatorOnlyValue(t *testing.T) {
	x := newReadyIndex(t, NonWord, items("---", "alpha-east", "::"))

	assert.Equal(t, []string{"---"}, valuesOf(x.Query("---", 10)))
	assert.Equal(t, []string{"::"}, valuesOf(x.Query("::", 10)))
	assert.Empty(t, x.Query("--", 10), "separator-only text matches whole values only")
}

func TestQueryLimitAndTieBreak(t *testing.T) {
	data := []Item{
		{Value: "win-a", Count: 3},
		{Value: "win-b", Count: 10},
		{Value: "win-c", Count: 7},
	}
	x := newReadyIndex(t, NonWord, data)

	assert.Equal(t, []string{"win-a", "win-b"}, valuesOf(x.Query("win", 2)))

	byCount := x.QueryWith("win", QueryOptions{
		Limit: 2,
		Less:  func(a, b Item) bool { return a.Count > b.Count },
	})
	assert.Equal(t, []string{"win-b", "win-c"}, valuesOf(byCount))
}

func TestDuplicateValuesLastWriteWins(t *testing.T) {
	data := []Item{
		{Value: "prod", Count: 1},
		{Value: "dev", Count: 2},
		{Value: "prod", Count: 5},
		{Value: ""},
	}
	x := newReadyIndex(t, Whitespace, data)

	all := x.Query("", 0)
	require.Len(t, all, 2)
	assert.Equal(t, Item{Value: "prod", Count: 5}, all[0])
	assert.Equal(t, "dev", all[1].Value)
}

func TestQueryResultsAreCopies(t *testing.T) {
	x := newReadyIndex(t, Whitespace, []Item{{Value: "a", Meta: map[string]string{"k": "v"}}})

	got := x.Query("a", 1)
	got[0].Meta["k"] = "changed"
	got[0].Value = "b"

	again := x.Query("a", 1)
	require.Len(t, again, 1)
	assert.Equal(t, "v", again[0].Meta["k"])
}

func TestRefreshNotForcedIsNoopWhileFresh(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, Source) ([]Item, error) {
		calls.Add(1)
		return items("a", "b"), nil
	})
	x := NewIndex(f, Options{Name: "ttl", TTL: time.Hour})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return now }
	x.Configure(Source{URL: "/data/ttl"}, Whitespace)

	ctx := context.Background()
	require.NoError(t, x.Refresh(ctx, false))
	gen := x.Generation()
	first := x.Query("", 0)

	require.NoError(t, x.Refresh(ctx, false))
	assert.Equal(t, gen, x.Generation())
	assert.Equal(t, first, x.Query("", 0))
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, x.Refresh(ctx, true))
	assert.Equal(t, gen+1, x.Generation())
	assert.Equal(t, int32(2), calls.Load())

	now = now.Add(2 * time.Hour)
	require.NoError(t, x.Refresh(ctx, false))
	assert.Equal(t, int32(3), calls.Load(), "expired dataset is fetched again")
}

func TestZeroTTLUsesDefault(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, Source) ([]Item, error) {
		calls.Add(1)
		return items("a"), nil
	})
	x := NewIndex(f, Options{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return now }
	x.Configure(Source{URL: "/data/ttl"}, Whitespace)

	ctx := context.Background()
	require.NoError(t, x.Refresh(ctx, false))
	now = now.Add(DefaultTTL - time.Minute)
	require.NoError(t, x.Refresh(ctx, false))
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	require.NoError(t, x.Refresh(ctx, false))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshNotForcedAfterConfigureFetches(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, Source) ([]Item, error) {
		calls.Add(1)
		return items("a"), nil
	})
	x := NewIndex(f, Options{TTL: -1})
	x.Configure(Source{URL: "/one"}, Whitespace)
	require.NoError(t, x.Refresh(context.Background(), false))

	x.Configure(Source{URL: "/two"}, Whitespace)
	require.NoError(t, x.Refresh(context.Background(), false))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshFailureKeepsPreviousDataset(t *testing.T) {
	fail := false
	f := FetcherFunc(func(_ context.Context, src Source) ([]Item, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return items("alpha-east", "beta-west"), nil
	})
	x := NewIndex(f, Options{Name: "plans"})
	x.Configure(Source{URL: "/plans"}, NonWord)
	require.NoError(t, x.Refresh(context.Background(), true))
	before := x.Query("a", 10)
	gen := x.Generation()

	fail = true
	err := x.Refresh(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, FetchError, KindOf(err))
	assert.Equal(t, Error, x.State())
	assert.Equal(t, err, x.LastError())
	assert.Equal(t, gen, x.Generation())
	assert.Equal(t, before, x.Query("a", 10))

	fail = false
	require.NoError(t, x.Refresh(context.Background(), true))
	assert.Equal(t, Ready, x.State())
	assert.NoError(t, x.LastError())
}

func TestRefreshKeepsClassifiedErrors(t *testing.T) {
	f := FetcherFunc(func(_ context.Context, src Source) ([]Item, error) {
		return nil, NewResponseError(src.String(), 503, "Service Unavailable")
	})
	x := NewIndex(f, Options{})
	x.Configure(Source{URL: "/x"}, Whitespace)

	err := x.Refresh(context.Background(), true)
	var re *RefreshError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ResponseError, re.Kind)
	assert.Equal(t, 503, re.Status)
}

func TestRefreshTimeout(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, _ Source) ([]Item, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	x := NewIndex(f, Options{Timeout: 20 * time.Millisecond})
	x.Configure(Source{URL: "/slow"}, Whitespace)

	err := x.Refresh(context.Background(), true)
	assert.Equal(t, FetchError, KindOf(err))
	assert.Equal(t, Error, x.State())
}

func TestInvalidate(t *testing.T) {
	x := newReadyIndex(t, Whitespace, items("a", "b"))
	gen := x.Generation()

	x.Invalidate()
	assert.Equal(t, Idle, x.State())
	assert.Empty(t, x.Query("", 0))
	assert.Equal(t, 0, x.Len())
	assert.Greater(t, x.Generation(), gen)

	invalidatedGen := x.Generation()
	require.NoError(t, x.Refresh(context.Background(), false))
	assert.Greater(t, x.Generation(), invalidatedGen)
	assert.Equal(t, []string{"a", "b"}, valuesOf(x.Query("", 0)))
}

func TestInvalidateDuringRefreshDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := FetcherFunc(func(context.Context, Source) ([]Item, error) {
		close(started)
		<-release
		return items("late"), nil
	})
	x := NewIndex(f, Options{})
	x.Configure(Source{URL: "/x"}, Whitespace)

	done := x.RefreshAsync(context.Background(), true)
	<-started
	x.Invalidate()
	close(release)

	assert.ErrorIs(t, <-done, ErrDiscarded)
	assert.Equal(t, Idle, x.State())
	assert.Empty(t, x.Query("", 0))
}

func TestConfigureDuringRefreshNeverKeepsStaleData(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)
	f := FetcherFunc(func(_ context.Context, src Source) ([]Item, error) {
		started <- src.URL
		if src.URL == "/apiPlans/production" {
			<-release
			return items("production::plan"), nil
		}
		return items("staging::plan"), nil
	})
	x := NewIndex(f, Options{Name: "plans"})
	x.Configure(Source{URL: "/apiPlans/production"}, NonWord)

	ctx := context.Background()
	first := x.RefreshAsync(ctx, true)
	require.Equal(t, "/apiPlans/production", <-started)

	x.Configure(Source{URL: "/apiPlans/staging"}, NonWord)
	second := x.RefreshAsync(ctx, true)
	close(release)

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []string{"staging::plan"}, valuesOf(x.Query("", 0)))
	assert.Equal(t, Source{URL: "/apiPlans/staging"}, x.Source())
	assert.Equal(t, Ready, x.State())
}

func TestConfigureAfterSwapRefetchesWhileHandlersRun(t *testing.T) {
	f := FetcherFunc(func(_ context.Context, src Source) ([]Item, error) {
		if src.URL == "/apiPlans/production" {
			return items("production::plan"), nil
		}
		return items("staging::plan"), nil
	})
	x := NewIndex(f, Options{Name: "plans"})
	x.Configure(Source{URL: "/apiPlans/production"}, NonWord)

	inHandler := make(chan struct{})
	release := make(chan struct{})
	x.Subscribe(func(ev Event) {
		if ev.Type == RefreshSucceeded && ev.Source.URL == "/apiPlans/production" {
			close(inHandler)
			<-release
		}
	})

	ctx := context.Background()
	first := x.RefreshAsync(ctx, true)
	<-inHandler

	x.Configure(Source{URL: "/apiPlans/staging"}, NonWord)
	second := x.RefreshAsync(ctx, true)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("forced refresh after Configure waited on the previous refresh")
	}
	assert.Equal(t, []string{"staging::plan"}, valuesOf(x.Query("", 0)))

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, []string{"staging::plan"}, valuesOf(x.Query("", 0)))
	assert.Equal(t, uint64(2), x.Generation())
	assert.Equal(t, Ready, x.State())
}

func TestRefreshFailedHandlerMayRetry(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(_ context.Context, src Source) ([]Item, error) {
		if calls.Add(1) == 1 {
			return nil, NewResponseError(src.String(), 503, "503 Service Unavailable")
		}
		return items("production"), nil
	})
	x := NewIndex(f, Options{Name: "envs"})
	x.Configure(Source{URL: "/environments"}, Whitespace)

	retried := make(chan error, 1)
	x.Subscribe(func(ev Event) {
		if ev.Type == RefreshFailed {
			retried <- x.Refresh(context.Background(), true)
		}
	})

	done := x.RefreshAsync(context.Background(), true)
	select {
	case err := <-done:
		assert.Equal(t, ResponseError, KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("refresh from a RefreshFailed handler blocked")
	}
	require.NoError(t, <-retried)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, Ready, x.State())
	assert.Equal(t, []string{"production"}, valuesOf(x.Query("", 0)))
}

func TestRefreshStartedHandlerMayRefresh(t *testing.T) {
	x := NewIndex(staticFetcher(items("a")), Options{Name: "nested"})
	x.Configure(Source{URL: "/x"}, Whitespace)

	nested := make(chan error, 1)
	var entered atomic.Bool
	x.Subscribe(func(ev Event) {
		if ev.Type == RefreshStarted && entered.CompareAndSwap(false, true) {
			nested <- x.Refresh(context.Background(), true)
		}
	})

	done := x.RefreshAsync(context.Background(), true)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh from a RefreshStarted handler blocked")
	}
	require.NoError(t, <-nested)
	assert.Equal(t, Ready, x.State())
	assert.Equal(t, 1, x.Len())
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	f := FetcherFunc(func(context.Context, Source) ([]Item, error) {
		calls.Add(1)
		<-release
		return items("a"), nil
	})
	x := NewIndex(f, Options{})
	x.Configure(Source{URL: "/x"}, Whitespace)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- x.Refresh(context.Background(), true)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), x.Generation())
}

func TestRefreshCallerContextCancel(t *testing.T) {
	release := make(chan struct{})
	f := FetcherFunc(func(context.Context, Source) ([]Item, error) {
		<-release
		return items("a"), nil
	})
	x := NewIndex(f, Options{})
	x.Configure(Source{URL: "/x"}, Whitespace)

	ctx, cancel := context.WithCancel(context.Background())
	done := x.RefreshAsync(ctx, true)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return x.State() == Ready }, time.Second, time.Millisecond)
	assert.Equal(t, 1, x.Len())
}

func TestSubscribeLifecycleEvents(t *testing.T) {
	fail := false
	f := FetcherFunc(func(_ context.Context, src Source) ([]Item, error) {
		if fail {
			return nil, NewParseError(src.String(), errors.New("unexpected EOF"))
		}
		return items("a", "b"), nil
	})
	x := NewIndex(f, Options{Name: "envs"})
	x.Configure(Source{URL: "/envs"}, Whitespace)

	var mu sync.Mutex
	var seen []EventType
	unsubscribe := x.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
		assert.Equal(t, "envs", ev.Index)
	})
	x.Subscribe(func(Event) { panic("handler bug") })

	ctx := context.Background()
	require.NoError(t, x.Refresh(ctx, true))
	fail = true
	require.Error(t, x.Refresh(ctx, true))
	x.Invalidate()

	unsubscribe()
	unsubscribe()
	fail = false
	require.NoError(t, x.Refresh(ctx, true))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		RefreshStarted, RefreshSucceeded,
		RefreshStarted, RefreshFailed,
		Invalidated,
	}, seen)
}

func TestStats(t *testing.T) {
	x := newReadyIndex(t, NonWord, items("alpha-east", "alpha-west"))
	stats := x.Stats()

	assert.Equal(t, 2, stats["items"])
	assert.Equal(t, 3, stats["tokens"])
	assert.Equal(t, 1, stats["generation"])
	assert.Equal(t, int(Ready), stats["state"])
}

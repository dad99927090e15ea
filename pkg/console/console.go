// Package console wires configured datasets to suggestion indexes and owns
// the parameters (server, environment, ...) their endpoints depend on.
//
// Changing a parameter reconfigures every dependent index and forces a
// refresh, the way picking another Puppet environment reloads the plan and
// task lists.
package console

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/bastiangx/hound/internal/logger"
	"github.com/bastiangx/hound/pkg/config"
	"github.com/bastiangx/hound/pkg/source"
	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownDataset is returned for a dataset name that is not configured.
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrParamRequired is returned when a parameter is set to an empty value.
	ErrParamRequired = errors.New("parameter value is required")
)

// FetcherFactory builds the fetcher for one dataset.
type FetcherFactory func(d config.DatasetConfig) (suggest.Fetcher, error)

// HTTPFetchers returns a factory producing HTTP fetchers against baseURL.
func HTTPFetchers(baseURL string, timeout time.Duration) FetcherFactory {
	return func(d config.DatasetConfig) (suggest.Fetcher, error) {
		transform, err := source.LookupTransform(d.Transform)
		if err != nil {
			return nil, err
		}
		return source.NewHTTPFetcher(baseURL, transform, timeout), nil
	}
}

type dataset struct {
	cfg      config.DatasetConfig
	template source.Template
	kind     suggest.TokenizerKind
	index    *suggest.Index
}

// DatasetStatus is a point in time view of one index.
type DatasetStatus struct {
	Name       string    `json:"name" msgpack:"name"`
	State      string    `json:"state" msgpack:"state"`
	Generation uint64    `json:"generation" msgpack:"generation"`
	Items      int       `json:"items" msgpack:"items"`
	Source     string    `json:"source" msgpack:"source"`
	Tokenizer  string    `json:"tokenizer" msgpack:"tokenizer"`
	Limit      int       `json:"limit" msgpack:"limit"`
	FetchedAt  time.Time `json:"fetched_at,omitzero" msgpack:"fetched_at,omitempty"`
	Error      string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Console owns one independently constructed index per configured dataset.
type Console struct {
	logger   *log.Logger
	defaults map[string]string

	mu       sync.RWMutex
	params   map[string]string
	datasets map[string]*dataset
	order    []string
}

// New builds a console whose indexes fetch over HTTP as described by cfg.
func New(cfg *config.Config) (*Console, error) {
	return NewWithFetchers(cfg, HTTPFetchers(cfg.Index.BaseURL, cfg.Index.Timeout()))
}

// NewWithFetchers builds a console with fetchers from factory. Indexes are
// configured but not fetched; call Prefetch or Refresh.
func NewWithFetchers(cfg *config.Config, factory FetcherFactory) (*Console, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Console{
		logger:   logger.New("console"),
		defaults: maps.Clone(cfg.Params),
		params:   maps.Clone(cfg.Params),
		datasets: make(map[string]*dataset, len(cfg.Datasets)),
	}
	if c.params == nil {
		c.params = make(map[string]string)
	}

	for _, d := range cfg.Datasets {
		kind, err := suggest.ParseTokenizerKind(d.Tokenizer)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		fetcher, err := factory(d)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		ds := &dataset{
			cfg:      d,
			template: source.Template(d.URL),
			kind:     kind,
			index: suggest.NewIndex(fetcher, suggest.Options{
				Name:    d.Name,
				TTL:     cfg.Index.TTL(),
				Timeout: cfg.Index.Timeout(),
				Logger:  logger.New(d.Name),
			}),
		}
		if err := c.configureLocked(ds); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		c.datasets[d.Name] = ds
		c.order = append(c.order, d.Name)
	}
	return c, nil
}

// configureLocked points ds at its template expanded with the current params.
func (c *Console) configureLocked(ds *dataset) error {
	src, err := ds.template.Resolve(ds.cfg.Name, c.params, c.defaults)
	if err != nil {
		c.logger.Warn("cannot resolve dataset url", "dataset", ds.cfg.Name, "err", err)
		return err
	}
	ds.index.Configure(src, ds.kind)
	return nil
}

func (c *Console) lookup(name string) (*dataset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	return ds, nil
}

// Names lists the datasets in config order.
func (c *Console) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Index returns the index behind a dataset.
func (c *Console) Index(name string) (*suggest.Index, error) {
	ds, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return ds.index, nil
}

// Params returns a copy of the current parameter values.
func (c *Console) Params() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.params)
}

// Param returns the current value of one parameter.
func (c *Console) Param(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params[name]
}

// SetParam updates a parameter, reconfigures every dataset whose URL uses it
// and force-refreshes those datasets. It returns the names of the refreshed
// datasets and the joined refresh errors.
func (c *Console) SetParam(ctx context.Context, name, value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: %s", ErrParamRequired, name)
	}

	c.mu.Lock()
	c.params[name] = value
	var affected []*dataset
	var errs []error
	for _, n := range c.order {
		ds := c.datasets[n]
		if !ds.template.Uses(name) {
			continue
		}
		if err := c.configureLocked(ds); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		affected = append(affected, ds)
	}
	c.mu.Unlock()

	c.logger.Info("parameter changed, refreshing dependent datasets", "param", name, "value", value, "datasets", len(affected))
	names := make([]string, len(affected))
	for i, ds := range affected {
		names[i] = ds.cfg.Name
	}
	errs = append(errs, c.refreshAll(ctx, affected, true)...)
	return names, errors.Join(errs...)
}

// Refresh refreshes one dataset.
func (c *Console) Refresh(ctx context.Context, name string, force bool) error {
	ds, err := c.lookup(name)
	if err != nil {
		return err
	}
	return ds.index.Refresh(ctx, force)
}

// Prefetch refreshes every dataset concurrently and joins their errors.
func (c *Console) Prefetch(ctx context.Context, force bool) error {
	c.mu.RLock()
	all := make([]*dataset, 0, len(c.order))
	for _, n := range c.order {
		all = append(all, c.datasets[n])
	}
	c.mu.RUnlock()
	return errors.Join(c.refreshAll(ctx, all, force)...)
}

func (c *Console) refreshAll(ctx context.Context, sets []*dataset, force bool) []error {
	errs := make([]error, len(sets))
	var g errgroup.Group
	for i, ds := range sets {
		g.Go(func() error {
			if err := ds.index.Refresh(ctx, force); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ds.cfg.Name, err)
			}
			return nil
		})
	}
	g.Wait()

	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Invalidate drops a dataset without refetching it.
func (c *Console) Invalidate(name string) error {
	ds, err := c.lookup(name)
	if err != nil {
		return err
	}
	ds.index.Invalidate()
	return nil
}

// Query searches a dataset. A limit of zero uses the dataset's configured
// limit.
func (c *Console) Query(name, text string, limit int) ([]suggest.Item, error) {
	ds, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ds.cfg.Limit
	}
	return ds.index.Query(text, limit), nil
}

// Status reports every dataset in config order.
func (c *Console) Status() []DatasetStatus {
	c.mu.RLock()
	sets := make([]*dataset, 0, len(c.order))
	for _, n := range c.order {
		sets = append(sets, c.datasets[n])
	}
	c.mu.RUnlock()

	out := make([]DatasetStatus, len(sets))
	for i, ds := range sets {
		x := ds.index
		st := DatasetStatus{
			Name:       ds.cfg.Name,
			State:      x.State().String(),
			Generation: x.Generation(),
			Items:      x.Len(),
			Source:     x.Source().URL,
			Tokenizer:  x.Tokenizer().String(),
			Limit:      ds.cfg.Limit,
			FetchedAt:  x.FetchedAt(),
		}
		if err := x.LastError(); err != nil {
			st.Error = err.Error()
		}
		out[i] = st
	}
	return out
}

// Subscribe registers h on every index and returns a func removing it again.
func (c *Console) Subscribe(h suggest.Handler) func() {
	c.mu.RLock()
	unsubs := make([]func(), 0, len(c.datasets))
	for _, n := range c.order {
		unsubs = append(unsubs, c.datasets[n].index.Subscribe(h))
	}
	c.mu.RUnlock()
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

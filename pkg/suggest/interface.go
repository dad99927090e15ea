// Package suggest implements the prefetched suggestion index behind typeahead
// boxes: a dataset fetched from a remote endpoint, tokenized into a patricia
// trie and queried by conjunctive, case-insensitive token prefixes.
package suggest

import "context"

// ISuggester is the surface the front ends use to drive an index.
type ISuggester interface {
	// Configure sets the source and tokenizer; it never fetches.
	Configure(src Source, kind TokenizerKind)

	// Refresh fetches and swaps in a new dataset. force skips the TTL check.
	Refresh(ctx context.Context, force bool) error

	// Query returns matching items in dataset order, at most limit of them.
	Query(text string, limit int) []Item

	// Invalidate drops the dataset without fetching.
	Invalidate()

	State() State
	Generation() uint64
	Stats() map[string]int
}

var _ ISuggester = (*Index)(nil)

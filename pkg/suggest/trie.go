package suggest

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// posting lists the dataset positions of every item carrying a token,
// in ascending order.
type posting struct {
	positions []int
}

// snapshot is an immutable, fully built dataset plus its token trie.
// Queries only ever see a complete snapshot.
type snapshot struct {
	generation uint64
	source     Source
	kind       TokenizerKind
	items      []Item
	trie       *patricia.Trie
	tokens     int
	fetchedAt  time.Time
	populated  bool
}

func emptySnapshot(generation uint64) *snapshot {
	return &snapshot{generation: generation, trie: patricia.NewTrie()}
}

// buildSnapshot dedupes raw by Value and indexes every token of every
// display value. A later duplicate replaces the earlier item in place.
func buildSnapshot(src Source, kind TokenizerKind, raw []Item, fetchedAt time.Time) *snapshot {
	items := make([]Item, 0, len(raw))
	slots := make(map[string]int, len(raw))
	for _, it := range raw {
		if it.Value == "" {
			continue
		}
		if pos, ok := slots[it.Value]; ok {
			items[pos] = it
			continue
		}
		slots[it.Value] = len(items)
		items = append(items, it)
	}

	s := &snapshot{
		source:    src,
		kind:      kind,
		items:     items,
		trie:      patricia.NewTrie(),
		fetchedAt: fetchedAt,
		populated: true,
	}
	for pos, it := range items {
		for _, tok := range Tokenize(kind, it.Value) {
			key := patricia.Prefix(tok)
			if existing := s.trie.Get(key); existing != nil {
				p := existing.(*posting)
				if p.positions[len(p.positions)-1] != pos {
					p.positions = append(p.positions, pos)
				}
				continue
			}
			s.trie.Insert(key, &posting{positions: []int{pos}})
			s.tokens++
		}
	}
	return s
}

// visit marks every item owning a token that starts with prefix.
func (s *snapshot) visit(prefix string, marks []bool) {
	err := s.trie.VisitSubtree(patricia.Prefix(prefix), func(_ patricia.Prefix, item patricia.Item) error {
		for _, pos := range item.(*posting).positions {
			marks[pos] = true
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error visiting token trie subtree: %v", err)
	}
}

// match returns, in dataset order, the positions of items matching every
// query token by prefix.
func (s *snapshot) match(tokens []string) []int {
	if len(tokens) == 0 || len(s.items) == 0 {
		return nil
	}
	var acc []int
	marks := make([]bool, len(s.items))
	for i, tok := range tokens {
		clear(marks)
		s.visit(tok, marks)
		if i == 0 {
			for pos, hit := range marks {
				if hit {
					acc = append(acc, pos)
				}
			}
		} else {
			kept := acc[:0]
			for _, pos := range acc {
				if marks[pos] {
					kept = append(kept, pos)
				}
			}
			acc = kept
		}
		if len(acc) == 0 {
			return nil
		}
	}
	return acc
}

// exact returns the positions of items whose value equals text ignoring
// case. It serves values that carry no tokens at all.
func (s *snapshot) exact(text string) []int {
	var out []int
	for pos, it := range s.items {
		if strings.EqualFold(it.Value, text) {
			out = append(out, pos)
		}
	}
	return out
}

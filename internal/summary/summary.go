// Package summary implements the aggregated view of a set of metadata : a
// prefix-sharing tree over a fixed order of summarisable attribute slots,
// each leaf holding a Stats record with (count, total size, reftime span).
// Summaries are what a dataset answers "what's in here" queries from without
// touching segment data, and what the per-month and per-dataset caches
// persist.
package summary

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// summaryCodes is the fixed slot order of the trie: every path from root to
// leaf assigns one value (or absence) per code, in this order. The order is
// part of the persisted format and never changes; reftime is excluded
// because it lives in the leaf Stats, and source/value/ assigned-dataset are
// excluded because they are per-message, not summarisable.
var summaryCodes = []types.Code{
	types.CodeOrigin, types.CodeProduct, types.CodeLevel, types.CodeTimerange,
	types.CodeArea, types.CodeProddef, types.CodeRun, types.CodeTask,
	types.CodeQuantity,
}

// Codes returns a copy of the fixed summarisable slot order.
func Codes() []types.Code {
	out := make([]types.Code, len(summaryCodes))
	copy(out, summaryCodes)
	return out
}

// Stats is one leaf's aggregate: how many messages share this attribute
// tuple, their total byte size, and the reftime span they cover.
type Stats struct {
	Count   uint64
	Size    uint64
	Reftime types.Merger
}

// Merge folds other into s.
func (s *Stats) Merge(other Stats) {
	s.Count += other.Count
	s.Size += other.Size
	if rt, ok := other.Reftime.Result(); ok {
		s.Reftime.Add(rt)
	}
}

type node struct {
	// children is keyed by the encoded payload of the item occupying this
	// depth's slot; the empty key stands for "attribute absent". Interior nodes
	// keep the decoded item alongside so filter/visit never re-decode.
	children map[string]*child
	stats    Stats // leaves only
}

type child struct {
	item    types.Item // nil when the slot is absent on this path
	present bool
	node    *node
}

func newNode() *node { return &node{children: make(map[string]*child)} }

// Summary is the trie. The zero value is not usable; call New.
type Summary struct {
	root *node
}

// New returns an empty summary.
func New() *Summary {
	return &Summary{root: newNode()}
}

// Add canonicalises md's summarisable attributes into the fixed-order tuple,
// descends the trie creating nodes as needed, and merges the leaf's stats
// with one message of the given byte size.
func (s *Summary) Add(md *metadata.Metadata, size int64) error {
	rt, ok := md.Reftime()
	if !ok {
		return fmt.Errorf("summary: %w: metadata has no reftime", errs.ErrMalformedInput)
	}

	n := s.root
	for _, code := range summaryCodes {
		item, present := md.Get(code)
		key := ""
		if present {
			key = string(item.EncodePayload())
		}
		c, ok := n.children[key]
		if !ok {
			c = &child{item: item, present: present, node: newNode()}
			n.children[key] = c
		}
		n = c.node
	}
	n.stats.Count++
	n.stats.Size += uint64(size)
	n.stats.Reftime.Add(rt)
	return nil
}

// Merge recursively folds other into s, reusing common prefixes.
func (s *Summary) Merge(other *Summary) {
	mergeNode(s.root, other.root, 0)
}

func mergeNode(dst, src *node, depth int) {
	if depth == len(summaryCodes) {
		dst.stats.Merge(src.stats)
		return
	}
	for key, sc := range src.children {
		dc, ok := dst.children[key]
		if !ok {
			dc = &child{item: sc.item, present: sc.present, node: newNode()}
			dst.children[key] = dc
		}
		mergeNode(dc.node, sc.node, depth+1)
	}
}

// ItemPredicate is the slice of the matcher contract the summary engine
// needs -> bool"): given a slot's code and its item (nil when absent on this
// path), decide whether any metadata on this path could match.
type ItemPredicate interface {
	MatchItem(code types.Code, item types.Item) bool
	// MatchInterval tests a reftime span, used against leaf stats.
	MatchInterval(min, max types.Time) bool
}

// Filter walks the trie, pruning whole subtrees as soon as one slot's value
// fails pred, and adds the surviving leaves to out.
func (s *Summary) Filter(pred ItemPredicate, out *Summary) {
	filterNode(s.root, out.root, 0, pred)
}

func filterNode(src, dst *node, depth int, pred ItemPredicate) {
	if depth == len(summaryCodes) {
		if rt, ok := src.stats.Reftime.Result(); ok {
			if !pred.MatchInterval(rt.Min(), rt.Max()) {
				return
			}
		}
		dst.stats.Merge(src.stats)
		return
	}
	for key, sc := range src.children {
		if !pred.MatchItem(summaryCodes[depth], sc.item) {
			continue
		}
		dc, ok := dst.children[key]
		if !ok {
			dc = &child{item: sc.item, present: sc.present, node: newNode()}
			dst.children[key] = dc
		}
		filterNode(sc.node, dc.node, depth+1, pred)
	}
}

// Visit calls fn once per leaf with the path's attribute tuple (absent slots
// are missing from the map) and the leaf's stats, in a stable order.
func (s *Summary) Visit(fn func(items map[types.Code]types.Item, stats Stats) error) error {
	tuple := make(map[types.Code]types.Item, len(summaryCodes))
	return visitNode(s.root, 0, tuple, fn)
}

func visitNode(n *node, depth int, tuple map[types.Code]types.Item, fn func(map[types.Code]types.Item, Stats) error) error {
	if depth == len(summaryCodes) {
		return fn(tuple, n.stats)
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		c := n.children[key]
		if c.present {
			tuple[summaryCodes[depth]] = c.item
		}
		if err := visitNode(c.node, depth+1, tuple, fn); err != nil {
			return err
		}
		delete(tuple, summaryCodes[depth])
	}
	return nil
}

// Count sums message counts over all leaves.
func (s *Summary) Count() uint64 {
	var total uint64
	_ = s.Visit(func(_ map[types.Code]types.Item, st Stats) error {
		total += st.Count
		return nil
	})
	return total
}

// Size sums message byte sizes over all leaves.
func (s *Summary) Size() uint64 {
	var total uint64
	_ = s.Visit(func(_ map[types.Code]types.Item, st Stats) error {
		total += st.Size
		return nil
	})
	return total
}

// ReftimeSpan returns the overall (min, max) reftime bound across all
// leaves, and whether the summary holds anything at all.
func (s *Summary) ReftimeSpan() (min, max types.Time, ok bool) {
	var m types.Merger
	_ = s.Visit(func(_ map[types.Code]types.Item, st Stats) error {
		if rt, has := st.Reftime.Result(); has {
			m.Add(rt)
		}
		return nil
	})
	rt, has := m.Result()
	if !has {
		return types.Time{}, types.Time{}, false
	}
	return rt.Min(), rt.Max(), true
}

// BBoxProvider is the external bounding-box collaborator. ConvexHull
// delegates to it when present.
type BBoxProvider interface {
	// Hull returns a geometry string (typically WKT) covering every area in
	// items, or "" when nothing carries a bounding box.
	Hull(areas []types.Item) (string, error)
}

// ConvexHull unions the bbox-bearing Area attributes at the leaves. With no
// provider, or no Area attributes, it returns the empty hull rather than an
// error.
func (s *Summary) ConvexHull(p BBoxProvider) (string, error) {
	if p == nil {
		return "", nil
	}
	var areas []types.Item
	_ = s.Visit(func(items map[types.Code]types.Item, _ Stats) error {
		if a, ok := items[types.CodeArea]; ok {
			areas = append(areas, a)
		}
		return nil
	})
	if len(areas) == 0 {
		return "", nil
	}
	return p.Hull(areas)
}

// Encode frames the summary as an SU bundle. The payload is a flat leaf
// list: per leaf, one presence-prefixed entry per slot in summaryCodes
// order, then the stats block.
func (s *Summary) Encode() []byte {
	var payload []byte
	_ = s.Visit(func(items map[types.Code]types.Item, st Stats) error {
		for _, code := range summaryCodes {
			item, ok := items[code]
			if !ok {
				payload = append(payload, 0)
				continue
			}
			payload = append(payload, 1)
			body := item.EncodePayload()
			payload = protowire.AppendVarint(payload, uint64(len(body)))
			payload = append(payload, body...)
		}
		payload = codec.AppendUint64(payload, st.Count)
		payload = codec.AppendUint64(payload, st.Size)
		if rt, ok := st.Reftime.Result(); ok {
			payload = append(payload, 1)
			body := rt.EncodePayload()
			payload = protowire.AppendVarint(payload, uint64(len(body)))
			payload = append(payload, body...)
		} else {
			payload = append(payload, 0)
		}
		return nil
	})
	return codec.EncodeBundle(codec.TagSummary, 0, payload)
}

// Decode parses an encoded SU bundle (envelope included) back into a
// Summary.
func Decode(buf []byte) (*Summary, error) {
	b, _, err := codec.ReadBundle(buf)
	if err != nil {
		return nil, fmt.Errorf("summary: read envelope: %w", err)
	}
	if b.Tag != codec.TagSummary {
		return nil, fmt.Errorf("summary: %w: expected SU, got %q", errs.ErrMalformedInput, b.Tag)
	}
	return decodePayload(b.Payload)
}

func decodePayload(payload []byte) (*Summary, error) {
	s := New()
	for len(payload) > 0 {
		n := s.root
		for _, code := range summaryCodes {
			flag, rest, err := codec.ConsumeByte(payload)
			if err != nil {
				return nil, fmt.Errorf("summary: leaf slot flag: %w", err)
			}
			payload = rest

			var item types.Item
			present := flag == 1
			key := ""
			if present {
				body, rest, err := consumeLengthPrefixed(payload)
				if err != nil {
					return nil, fmt.Errorf("summary: leaf slot body: %w", err)
				}
				payload = rest
				item, err = types.Decode(code, 0, body)
				if err != nil {
					return nil, fmt.Errorf("summary: decode %s: %w", code, err)
				}
				key = string(item.EncodePayload())
			}
			c, ok := n.children[key]
			if !ok {
				c = &child{item: item, present: present, node: newNode()}
				n.children[key] = c
			}
			n = c.node
		}

		count, rest, err := codec.ConsumeUint64(payload)
		if err != nil {
			return nil, fmt.Errorf("summary: stats count: %w", err)
		}
		size, rest, err := codec.ConsumeUint64(rest)
		if err != nil {
			return nil, fmt.Errorf("summary: stats size: %w", err)
		}
		rtFlag, rest, err := codec.ConsumeByte(rest)
		if err != nil {
			return nil, fmt.Errorf("summary: stats reftime flag: %w", err)
		}
		payload = rest

		st := Stats{Count: count, Size: size}
		if rtFlag == 1 {
			body, rest, err := consumeLengthPrefixed(payload)
			if err != nil {
				return nil, fmt.Errorf("summary: stats reftime: %w", err)
			}
			payload = rest
			item, err := types.Decode(types.CodeReftime, 0, body)
			if err != nil {
				return nil, fmt.Errorf("summary: decode stats reftime: %w", err)
			}
			st.Reftime.Add(item.(types.Reftime))
		}
		n.stats.Merge(st)
	}
	return s, nil
}

func consumeLengthPrefixed(buf []byte) ([]byte, []byte, error) {
	length, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return nil, nil, fmt.Errorf("length varint: %w", errs.ErrMalformedInput)
	}
	buf = buf[n:]
	if uint64(len(buf)) < length {
		return nil, nil, fmt.Errorf("body claims %d bytes, only %d remain: %w", length, len(buf), errs.ErrMalformedInput)
	}
	return buf[:length], buf[length:], nil
}

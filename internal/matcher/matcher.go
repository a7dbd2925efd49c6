// Package matcher implements the compiled predicate the dataset engine
// consumes: an AND across attribute codes of per-code OR lists, plus a
// reftime interval. The full expression language lives in an external
// collaborator; this package carries the small concrete subset the storage
// engine relies on — enough to filter metadata and summary items, split a
// predicate into indexable and residual parts, and hand the query engine the
// values it needs to build SQL.
package matcher

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Term is one alternative of a per-code OR list: a style name plus
// positional integer arguments, each optionally wildcarded. String-valued
// codes (task, quantity) use Str instead.
type Term struct {
	Style string
	Args  []int
	Mask  []bool // Mask[i] false = wildcard at position i
	Str   string
}

// TimeBound is a closed reftime interval, either end optional.
type TimeBound struct {
	HasMin, HasMax bool
	Min, Max       types.Time // inclusive
}

// Overlaps reports whether [min, max] intersects the bound.
func (b TimeBound) Overlaps(min, max types.Time) bool {
	if b.HasMax && min.Compare(b.Max) > 0 {
		return false
	}
	if b.HasMin && max.Compare(b.Min) < 0 {
		return false
	}
	return true
}

// Contains reports whether t falls inside the bound.
func (b TimeBound) Contains(t types.Time) bool {
	return b.Overlaps(t, t)
}

// Matcher is the compiled predicate: AND across codes, OR within a code. The
// zero value matches everything; Parse builds populated ones.
type Matcher struct {
	terms   map[types.Code][]Term
	reftime *TimeBound
}

// New returns a matcher that matches everything.
func New() *Matcher {
	return &Matcher{terms: make(map[types.Code][]Term)}
}

// Empty reports whether the matcher has no constraints at all.
func (m *Matcher) Empty() bool {
	return m == nil || (len(m.terms) == 0 && m.reftime == nil)
}

// Codes returns the attribute codes this matcher constrains, excluding
// reftime (exposed separately via RefBound).
func (m *Matcher) Codes() []types.Code {
	var out []types.Code
	for _, code := range types.Codes {
		if _, ok := m.terms[code]; ok {
			out = append(out, code)
		}
	}
	return out
}

// Terms returns the OR list for code.
func (m *Matcher) Terms(code types.Code) []Term {
	return m.terms[code]
}

// RefBound returns the reftime interval constraint, if any.
func (m *Matcher) RefBound() (TimeBound, bool) {
	if m.reftime == nil {
		return TimeBound{}, false
	}
	return *m.reftime, true
}

// Match evaluates the predicate against a full metadata record). A code
// constrained by the matcher but absent from the metadata never matches.
func (m *Matcher) Match(md *metadata.Metadata) bool {
	if m == nil {
		return true
	}
	for code, terms := range m.terms {
		item, ok := md.Get(code)
		if !ok || !matchAny(code, terms, item) {
			return false
		}
	}
	if m.reftime != nil {
		rt, ok := md.Reftime()
		if !ok || !m.reftime.Overlaps(rt.Min(), rt.Max()) {
			return false
		}
	}
	return true
}

// MatchItem evaluates the per-code slice of the predicate against one
// summary item). item is nil when the slot is absent on the summary path
// being tested.
func (m *Matcher) MatchItem(code types.Code, item types.Item) bool {
	if m == nil {
		return true
	}
	terms, ok := m.terms[code]
	if !ok {
		return true
	}
	if item == nil {
		return false
	}
	return matchAny(code, terms, item)
}

// MatchInterval tests a reftime span against the matcher's reftime
// constraint, the operation manifest pruning and path_matches build on.
func (m *Matcher) MatchInterval(min, max types.Time) bool {
	if m == nil || m.reftime == nil {
		return true
	}
	return m.reftime.Overlaps(min, max)
}

func matchAny(code types.Code, terms []Term, item types.Item) bool {
	for _, t := range terms {
		if matchTerm(code, t, item) {
			return true
		}
	}
	return false
}

func matchTerm(code types.Code, t Term, item types.Item) bool {
	switch code {
	case types.CodeTask:
		task, ok := item.(types.Task)
		return ok && task.Text == t.Str
	case types.CodeQuantity:
		q, ok := item.(types.Quantity)
		if !ok {
			return false
		}
		for _, v := range q.Values {
			if v == t.Str {
				return true
			}
		}
		return false
	case types.CodeArea, types.CodeProddef:
		// Key-value bags match by style name only at this layer; finer predicates
		// stay with the external matcher collaborator.
		return item.Style() == t.Style
	}

	if item.Style() != t.Style {
		return false
	}
	fields, ok := itemFields(item)
	if !ok {
		return false
	}
	for i, want := range t.Args {
		if i >= len(fields) {
			return false
		}
		if t.Mask[i] && fields[i] != want {
			return false
		}
	}
	return true
}

// itemFields flattens a field-structured attribute into the positional
// integer sequence the expression syntax addresses.
func itemFields(item types.Item) ([]int, bool) {
	switch v := item.(type) {
	case types.Origin:
		switch v.Style() {
		case types.OriginStyleGRIB1:
			return []int{v.Centre, v.Subcentre, v.Process}, true
		case types.OriginStyleGRIB2:
			return []int{v.Centre, v.Subcentre, v.ProcessType, v.BgProcessID, v.Process}, true
		case types.OriginStyleBUFR:
			return []int{v.BUFRCentre, v.BUFRSubcentre}, true
		}
	case types.Product:
		switch v.Style() {
		case types.ProductStyleGRIB1:
			return []int{v.Origin, v.Table, v.Num}, true
		case types.ProductStyleGRIB2:
			return []int{v.Centre, v.Discipline, v.Category, v.Number}, true
		case types.ProductStyleBUFR:
			return []int{v.Type, v.Subtype, v.LocalSubtype}, true
		}
	case types.Level:
		switch v.Style() {
		case types.LevelStyleGRIB1:
			return []int{v.Type, v.L1, v.L2}, true
		case types.LevelStyleGRIB2S:
			return []int{v.Type1, v.Scale1, v.Value1}, true
		case types.LevelStyleGRIB2D:
			return []int{v.Type1, v.Scale1, v.Value1, v.Type2, v.Scale2, v.Value2}, true
		}
	case types.Timerange:
		return []int{v.Type, v.Unit, v.P1, v.P2}, true
	case types.Run:
		return []int{v.Hour, v.Min}, true
	}
	return nil, false
}

// styleArity maps (code, style) to the full positional arity, used to decide
// whether a term pins every field and can be turned back into a concrete
// Item for index lookup.
func styleArity(code types.Code, style string) (int, bool) {
	switch code {
	case types.CodeOrigin:
		switch style {
		case types.OriginStyleGRIB1:
			return 3, true
		case types.OriginStyleGRIB2:
			return 5, true
		case types.OriginStyleBUFR:
			return 2, true
		}
	case types.CodeProduct:
		switch style {
		case types.ProductStyleGRIB1, types.ProductStyleBUFR:
			return 3, true
		case types.ProductStyleGRIB2:
			return 4, true
		}
	case types.CodeLevel:
		switch style {
		case types.LevelStyleGRIB1, types.LevelStyleGRIB2S:
			return 3, true
		case types.LevelStyleGRIB2D:
			return 6, true
		}
	case types.CodeTimerange:
		switch style {
		case types.TimerangeStyleGRIB1, types.TimerangeStyleGRIB2:
			return 4, true
		}
	case types.CodeRun:
		if style == types.RunStyleMinute {
			return 2, true
		}
	}
	return 0, false
}

// buildItem reconstructs the concrete Item a fully-pinned term denotes.
func buildItem(code types.Code, t Term) (types.Item, bool) {
	a := t.Args
	switch code {
	case types.CodeOrigin:
		switch t.Style {
		case types.OriginStyleGRIB1:
			return types.NewOriginGRIB1(a[0], a[1], a[2]), true
		case types.OriginStyleGRIB2:
			return types.NewOriginGRIB2(a[0], a[1], a[2], a[3], a[4]), true
		case types.OriginStyleBUFR:
			return types.NewOriginBUFR(a[0], a[1]), true
		}
	case types.CodeProduct:
		switch t.Style {
		case types.ProductStyleGRIB1:
			return types.NewProductGRIB1(a[0], a[1], a[2]), true
		case types.ProductStyleGRIB2:
			return types.NewProductGRIB2(a[0], a[1], a[2], a[3]), true
		case types.ProductStyleBUFR:
			return types.NewProductBUFR(a[0], a[1], a[2]), true
		}
	case types.CodeLevel:
		switch t.Style {
		case types.LevelStyleGRIB1:
			return types.NewLevelGRIB1(a[0], a[1], a[2]), true
		case types.LevelStyleGRIB2S:
			return types.NewLevelGRIB2S(a[0], a[1], a[2]), true
		case types.LevelStyleGRIB2D:
			return types.NewLevelGRIB2D(a[0], a[1], a[2], a[3], a[4], a[5]), true
		}
	case types.CodeTimerange:
		switch t.Style {
		case types.TimerangeStyleGRIB1:
			return types.NewTimerangeGRIB1(a[0], a[1], a[2], a[3]), true
		case types.TimerangeStyleGRIB2:
			return types.NewTimerangeGRIB2(a[0], a[1], a[2], a[3]), true
		}
	case types.CodeRun:
		if t.Style == types.RunStyleMinute {
			return types.NewRunMinute(a[0], a[1]), true
		}
	}
	return nil, false
}

// exact reports whether t pins every positional field of its style and, if
// so, the concrete Item it denotes.
func exact(code types.Code, t Term) (types.Item, bool) {
	arity, ok := styleArity(code, t.Style)
	if !ok || len(t.Args) != arity {
		return nil, false
	}
	for _, m := range t.Mask {
		if !m {
			return nil, false
		}
	}
	return buildItem(code, t)
}

// ExactItems returns the concrete Items for code's OR list when every
// alternative is fully pinned — the values the query engine looks up in the
// interning table to build an IN-clause. ok is false when any alternative is
// partial, in which case the whole OR list must stay residual.
func (m *Matcher) ExactItems(code types.Code) ([]types.Item, bool) {
	terms, present := m.terms[code]
	if !present {
		return nil, false
	}
	items := make([]types.Item, 0, len(terms))
	for _, t := range terms {
		it, ok := exact(code, t)
		if !ok {
			return nil, false
		}
		items = append(items, it)
	}
	return items, true
}

// Split partitions the matcher into the part the index can evaluate and the
// residual evaluated in memory. A code goes to the indexed part only when it
// is one of indexedCodes and every OR alternative is fully pinned; the
// reftime bound is always indexable because the reftime column always
// exists.
func (m *Matcher) Split(indexedCodes []types.Code) (indexed, residual *Matcher) {
	indexed, residual = New(), New()
	if m == nil {
		return indexed, residual
	}
	indexedSet := make(map[types.Code]bool, len(indexedCodes))
	for _, c := range indexedCodes {
		indexedSet[c] = true
	}
	for code, terms := range m.terms {
		if indexedSet[code] {
			if _, ok := m.ExactItems(code); ok {
				indexed.terms[code] = terms
				continue
			}
		}
		residual.terms[code] = terms
	}
	if m.reftime != nil {
		b := *m.reftime
		indexed.reftime = &b
	}
	return indexed, residual
}

// String renders the matcher back in the expression syntax, for logs and the
// query parameter a remote dataset sends to its server.
func (m *Matcher) String() string {
	if m.Empty() {
		return "(all)"
	}
	var out string
	sep := ""
	for _, code := range m.Codes() {
		out += sep + code.String() + ":"
		for i, t := range m.terms[code] {
			if i > 0 {
				out += " or "
			}
			out += termString(code, t)
		}
		sep = "; "
	}
	if m.reftime != nil {
		out += sep + "reftime:"
		sep2 := ""
		if m.reftime.HasMin {
			out += fmt.Sprintf(">=%s", m.reftime.Min.SQLText())
			sep2 = ","
		}
		if m.reftime.HasMax {
			out += fmt.Sprintf("%s<=%s", sep2, m.reftime.Max.SQLText())
		}
	}
	return out
}

func termString(code types.Code, t Term) string {
	switch code {
	case types.CodeTask, types.CodeQuantity:
		return t.Str
	}
	out := t.Style
	for i, a := range t.Args {
		if t.Mask[i] {
			out += fmt.Sprintf(",%d", a)
		} else {
			out += ","
		}
	}
	return out
}

package query

import (
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/index"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// BuildSegmentWhere rewrites the indexable part of m into a SQL WHERE
// fragment for one segment's iseg index: the reftime bound becomes range
// conditions on the reftime column, each fully-pinned per-code OR list
// becomes an IN-clause over the ids the segment's interning table assigns.
// The residual part — everything the index cannot evaluate — is returned for
// in-memory filtering.
//
// An OR list whose values were never interned in this segment cannot match
// any row; the fragment short-circuits to a constant false so the segment is
// skipped without a table scan.
func BuildSegmentWhere(m *matcher.Matcher, seg *index.Segment, indexedCodes []types.Code) (whereSQL string, args []any, residual *matcher.Matcher, err error) {
	indexed, residual := m.Split(indexedCodes)

	var conds []string
	if bound, ok := indexed.RefBound(); ok {
		if bound.HasMin {
			conds = append(conds, "reftime >= ?")
			args = append(args, bound.Min.SQLText())
		}
		if bound.HasMax {
			conds = append(conds, "reftime <= ?")
			args = append(args, bound.Max.SQLText())
		}
	}

	for _, code := range indexed.Codes() {
		items, ok := indexed.ExactItems(code)
		if !ok {
			continue
		}
		ids, err := seg.LookupAttrIDs(code, items)
		if err != nil {
			return "", nil, nil, err
		}
		if len(ids) == 0 {
			return "0", nil, residual, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		conds = append(conds, index.ColumnName(code)+" IN ("+placeholders+")")
		for _, id := range ids {
			args = append(args, id)
		}
	}

	return strings.Join(conds, " AND "), args, residual, nil
}

// Package types implements arkimet's tagged-union attribute type system : a
// closed, versioned enumeration of attribute codes, one sum type per code.
// Origin, product, level, timerange, area and proddef each have an interning
// arena so equal values share storage and compare by index rather than by
// deep structural comparison after the first encounter.
package types

// Code identifies one of the closed set of recognised attribute kinds. The
// set is versioned: new codes are never inserted in the middle of the
// enumeration, only appended, so an encoded Code value keeps its meaning
// across releases.
type Code uint8

const (
	CodeOrigin Code = iota
	CodeProduct
	CodeLevel
	CodeTimerange
	CodeArea
	CodeProddef
	CodeReftime
	CodeSource
	CodeRun
	CodeTask
	CodeQuantity
	CodeValue
	CodeAssignedDataset
	CodeNote
	CodeSummaryItem
	CodeSummaryStats
)

var codeNames = [...]string{
	CodeOrigin:          "origin",
	CodeProduct:         "product",
	CodeLevel:           "level",
	CodeTimerange:       "timerange",
	CodeArea:            "area",
	CodeProddef:         "proddef",
	CodeReftime:         "reftime",
	CodeSource:          "source",
	CodeRun:             "run",
	CodeTask:            "task",
	CodeQuantity:        "quantity",
	CodeValue:           "value",
	CodeAssignedDataset: "assigned-dataset",
	CodeNote:            "note",
	CodeSummaryItem:     "summary-item",
	CodeSummaryStats:    "summary-stats",
}

// String returns the canonical lowercase/hyphenated name of the code, the
// same spelling used in matcher expressions and YAML keys.
func (c Code) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return "unknown"
}

// Codes lists every recognised attribute code, in canonical order. It backs
// attribute-set canonicalisation and the lexicographic-by-code comparison
// contract.
var Codes = [...]Code{
	CodeOrigin, CodeProduct, CodeLevel, CodeTimerange, CodeArea, CodeProddef,
	CodeReftime, CodeSource, CodeRun, CodeTask, CodeQuantity, CodeValue,
	CodeAssignedDataset, CodeNote, CodeSummaryItem, CodeSummaryStats,
}

// Package query implements the read side of the dataset engine: the
// DataQuery/ByteQuery request types, the split of a compiled predicate into
// SQL and residual parts, result ordering, the parallel multi-dataset merge,
// and post-processor plumbing.
package query

import (
	"context"
	"fmt"
	"io"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// DataQuery asks for metadata (optionally with data inlined) matching a
// predicate, in an optional order.
type DataQuery struct {
	Matcher  *matcher.Matcher
	WithData bool
	Sorter   *Sorter
}

// ByteQueryType selects what a ByteQuery streams.
type ByteQueryType int

const (
	ByteData ByteQueryType = iota
	BytePostprocess
	ByteRepMetadata
	ByteRepSummary
)

// ByteQuery asks for a byte stream derived from matching messages.
type ByteQuery struct {
	DataQuery
	Type ByteQueryType
	// Param is the post-processor name or report name.
	Param string
	// DataStartHook fires once, just before the first payload byte leaves the
	// system; it never fires when no output is produced.
	DataStartHook func() error
}

// Reader is one queryable dataset, the capability Merged and ByteQuery
// execution compose over. Implementations must emit metadata already ordered
// per q.Sorter (or offset order when q.Sorter is nil).
type Reader interface {
	Name() string
	QueryData(ctx context.Context, q DataQuery, consumer func(*metadata.Metadata) error) error
	QuerySummary(ctx context.Context, m *matcher.Matcher) (*summary.Summary, error)
}

// Reporter is the scripting collaborator behind REP_METADATA and REP_SUMMARY
// byte queries.
type Reporter interface {
	ReportMetadata(md *metadata.Metadata, out io.Writer) error
	ReportSummary(s *summary.Summary, out io.Writer) error
}

// hookWriter fires hook exactly once, immediately before the first byte is
// forwarded.
type hookWriter struct {
	w     io.Writer
	hook  func() error
	fired bool
}

func (h *hookWriter) Write(p []byte) (int, error) {
	if len(p) > 0 && !h.fired {
		h.fired = true
		if h.hook != nil {
			if err := h.hook(); err != nil {
				return 0, err
			}
		}
	}
	return h.w.Write(p)
}

// WriteByteQuery executes q against r, streaming the result to out. data
// resolves BLOB sources; pp runs post-processors; rep serves the report
// types (may be nil when q.Type does not need it).
func WriteByteQuery(ctx context.Context, r Reader, q ByteQuery, data metadata.DataReader, out io.Writer, pp *PostprocessRunner, rep Reporter) error {
	hw := &hookWriter{w: out, hook: q.DataStartHook}

	switch q.Type {
	case ByteData:
		return r.QueryData(ctx, q.DataQuery, func(md *metadata.Metadata) error {
			buf, err := md.GetData(data, nil)
			if err != nil {
				return err
			}
			_, err = hw.Write(buf)
			return err
		})

	case BytePostprocess:
		if pp == nil {
			return fmt.Errorf("query: no post-processor runner configured")
		}
		pr, pw := io.Pipe()
		go func() {
			err := r.QueryData(ctx, q.DataQuery, func(md *metadata.Metadata) error {
				buf, err := md.GetData(data, nil)
				if err != nil {
					return err
				}
				_, err = pw.Write(buf)
				return err
			})
			pw.CloseWithError(err)
		}()
		return pp.Run(ctx, q.Param, pr, hw)

	case ByteRepMetadata:
		if rep == nil {
			return fmt.Errorf("query: no reporter configured")
		}
		return r.QueryData(ctx, q.DataQuery, func(md *metadata.Metadata) error {
			return rep.ReportMetadata(md, hw)
		})

	case ByteRepSummary:
		if rep == nil {
			return fmt.Errorf("query: no reporter configured")
		}
		s, err := r.QuerySummary(ctx, q.Matcher)
		if err != nil {
			return err
		}
		return rep.ReportSummary(s, hw)
	}
	return fmt.Errorf("query: unknown byte query type %d", q.Type)
}

// Inline resolves md's data through r and swaps its source to INLINE,
// returning the payload so the caller can emit it right after the metadata
// envelope.
func Inline(md *metadata.Metadata, r metadata.DataReader) ([]byte, error) {
	src, ok := md.Source()
	if !ok {
		return nil, fmt.Errorf("query: metadata has no source")
	}
	buf, err := md.GetData(r, nil)
	if err != nil {
		return nil, err
	}
	md.Set(types.NewSourceInline(src.Format, int64(len(buf))))
	return buf, nil
}

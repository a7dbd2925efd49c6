// Package dispatch routes incoming messages into datasets: outbound copies
// first, then exactly one regular dataset — or the error dataset when zero
// or several match, or the duplicates dataset when the chosen one reports a
// duplicate. Every message leaves through the caller's sink, annotated with
// what happened to it.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Writer is the per-dataset half the dispatcher composes over: the dataset
// name, its routing filter, and the acquire operation. *dataset.Dataset
// satisfies it.
type Writer interface {
	Name() string
	Acquire(ctx context.Context, md *metadata.Metadata, data []byte) (dataset.Outcome, error)
}

// target pairs a writer with its routing filter. The filter lives here
// rather than on the Writer interface so tests can route without building
// full dataset configs.
type target struct {
	w      Writer
	filter *matcher.Matcher
}

// Dispatcher routes messages over a pool of writers.
type Dispatcher struct {
	regular    []target
	outbound   []target
	errorDS    Writer
	duplicates Writer
	log        *zap.Logger

	outboundFailures int
}

// New returns an empty dispatcher. log may be nil.
func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log}
}

// AddRegular registers a routable dataset with its filter.
func (d *Dispatcher) AddRegular(w Writer, filter *matcher.Matcher) {
	d.regular = append(d.regular, target{w: w, filter: filter})
}

// AddOutbound registers an outbound dataset with its filter; outbound
// failures are counted but never fail a dispatch.
func (d *Dispatcher) AddOutbound(w Writer, filter *matcher.Matcher) {
	d.outbound = append(d.outbound, target{w: w, filter: filter})
}

// SetError registers the error dataset.
func (d *Dispatcher) SetError(w Writer) { d.errorDS = w }

// SetDuplicates registers the duplicates dataset.
func (d *Dispatcher) SetDuplicates(w Writer) { d.duplicates = w }

// OutboundFailures reports how many outbound acquires have failed since the
// dispatcher was built.
func (d *Dispatcher) OutboundFailures() int { return d.outboundFailures }

// Dispatch routes one message. The returned outcome describes the final
// resting place: OK means the chosen dataset (or error/duplicates as a
// successful fallback) owns a copy; Error means even the error dataset
// failed. The (possibly annotated) metadata always goes through sink so the
// caller sees what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, md *metadata.Metadata, data []byte, sink func(*metadata.Metadata) error) (dataset.Outcome, error) {
	if len(data) == 0 {
		// Fail early on unreadable input.
		return dataset.AcquireError, fmt.Errorf("dispatch: %w: message has no data", errs.ErrDataUnavailable)
	}

	for _, t := range d.outbound {
		if !t.filter.Match(md) {
			continue
		}
		if outcome, err := t.w.Acquire(ctx, md, data); outcome != dataset.AcquireOK {
			d.outboundFailures++
			d.log.Warn("outbound acquire failed", zap.String("dataset", t.w.Name()), zap.Error(err))
		}
	}

	matches := d.matchRegular(md)
	outcome, err := d.routeRegular(ctx, md, data, matches)
	if sinkErr := sink(md); sinkErr != nil && err == nil {
		err = sinkErr
	}
	return outcome, err
}

func (d *Dispatcher) matchRegular(md *metadata.Metadata) []target {
	var out []target
	for _, t := range d.regular {
		if t.filter.Match(md) {
			out = append(out, t)
		}
	}
	return out
}

func (d *Dispatcher) routeRegular(ctx context.Context, md *metadata.Metadata, data []byte, matches []target) (dataset.Outcome, error) {
	switch len(matches) {
	case 0:
		md.AddNote(now(), "message could not be assigned to any dataset")
		return d.fallThrough(ctx, md, data, d.errorDS)
	case 1:
		outcome, err := matches[0].w.Acquire(ctx, md, data)
		switch outcome {
		case dataset.AcquireOK:
			return dataset.AcquireOK, nil
		case dataset.AcquireDuplicate:
			if d.duplicates != nil {
				if o, derr := d.duplicates.Acquire(ctx, md, data); o == dataset.AcquireOK {
					return dataset.AcquireOK, nil
				} else {
					d.log.Warn("duplicates acquire failed", zap.Error(derr))
				}
			}
			return d.fallThrough(ctx, md, data, d.errorDS)
		default:
			d.log.Warn("acquire failed", zap.String("dataset", matches[0].w.Name()), zap.Error(err))
			return d.fallThrough(ctx, md, data, d.errorDS)
		}
	default:
		names := make([]string, len(matches))
		for i, t := range matches {
			names[i] = t.w.Name()
		}
		md.AddNote(now(), fmt.Sprintf("message matched multiple datasets: %s", strings.Join(names, ", ")))
		return d.fallThrough(ctx, md, data, d.errorDS)
	}
}

func (d *Dispatcher) fallThrough(ctx context.Context, md *metadata.Metadata, data []byte, w Writer) (dataset.Outcome, error) {
	if w == nil {
		return dataset.AcquireError, fmt.Errorf("dispatch: %w: no error dataset configured", errs.ErrConfigError)
	}
	outcome, err := w.Acquire(ctx, md, data)
	if outcome != dataset.AcquireOK {
		return dataset.AcquireError, fmt.Errorf("dispatch: error dataset refused message: %w", err)
	}
	return dataset.AcquireOK, nil
}

func now() types.Time {
	t := time.Now().UTC()
	return types.Time{
		Year: uint16(t.Year()), Month: uint8(t.Month()), Day: uint8(t.Day()),
		Hour: uint8(t.Hour()), Minute: uint8(t.Minute()), Second: uint8(t.Second()),
	}
}

// Trace simulates a dispatch without mutating any dataset, returning the
// textual trace `arki-scan --testdispatch` prints. arki-check has no
// dispatch mode.
func (d *Dispatcher) Trace(md *metadata.Metadata) string {
	var sb strings.Builder
	for _, t := range d.outbound {
		if t.filter.Match(md) {
			fmt.Fprintf(&sb, "outbound %s: matched\n", t.w.Name())
		}
	}
	matches := d.matchRegular(md)
	switch len(matches) {
	case 0:
		sb.WriteString("no dataset matched: message would be routed to error\n")
	case 1:
		fmt.Fprintf(&sb, "message would be routed to %s\n", matches[0].w.Name())
	default:
		names := make([]string, len(matches))
		for i, t := range matches {
			names[i] = t.w.Name()
		}
		fmt.Fprintf(&sb, "multiple datasets matched (%s): message would be routed to error\n", strings.Join(names, ", "))
	}
	return sb.String()
}

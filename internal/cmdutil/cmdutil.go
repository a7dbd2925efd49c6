// Package cmdutil holds the plumbing the arki-* command line tools share:
// logger construction, dataset-pool loading, and dispatcher wiring. The
// tools themselves stay thin argument parsers over the internal packages.
package cmdutil

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/dispatch"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
)

// NewLogger builds the production logger the tools share, with a quiet
// variant for scripting contexts.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		return cfg.Build()
	}
	return zap.NewDevelopment()
}

// Pool is a named set of opened datasets.
type Pool struct {
	Datasets map[string]*dataset.Dataset
	order    []string
}

// LoadPool opens every dataset directory under configDir (any subdirectory
// holding a `config` file).
func LoadPool(configDir string, log *zap.Logger) (*Pool, error) {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset pool %q", configDir)
	}
	p := &Pool{Datasets: make(map[string]*dataset.Dataset)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(configDir, e.Name())
		if _, err := os.Stat(filepath.Join(root, "config")); err != nil {
			continue
		}
		ds, err := dataset.OpenPath(root, dataset.WithLogger(log))
		if err != nil {
			return nil, errors.Wrapf(err, "open dataset %q", root)
		}
		p.Datasets[ds.Name()] = ds
		p.order = append(p.order, ds.Name())
	}
	sort.Strings(p.order)
	return p, nil
}

// Names lists the pool's dataset names in sorted order.
func (p *Pool) Names() []string { return p.order }

// Get returns a dataset by name.
func (p *Pool) Get(name string) (*dataset.Dataset, bool) {
	ds, ok := p.Datasets[name]
	return ds, ok
}

// Close closes every dataset in the pool.
func (p *Pool) Close() {
	for _, ds := range p.Datasets {
		_ = ds.Close()
	}
}

// BuildDispatcher wires the pool into a dispatcher: `error` and `duplicates`
// datasets take their special roles, outbound datasets register as outbound,
// everything else routes by its filter.
func BuildDispatcher(p *Pool, log *zap.Logger) (*dispatch.Dispatcher, error) {
	d := dispatch.New(log)
	for _, name := range p.order {
		ds := p.Datasets[name]
		cfg := ds.Config()
		filter := cfg.Filter
		if filter == nil {
			filter = matcher.New()
		}
		switch {
		case name == "error":
			d.SetError(ds)
		case name == "duplicates":
			d.SetDuplicates(ds)
		case cfg.Type == dataset.TypeOutbound:
			d.AddOutbound(ds, filter)
		default:
			d.AddRegular(ds, filter)
		}
	}
	return d, nil
}

// RequireArgs fails with a usage-class error when fewer than n positional
// arguments were given.
func RequireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return errors.Wrapf(errs.ErrConfigError, "usage: %s", usage)
	}
	return nil
}

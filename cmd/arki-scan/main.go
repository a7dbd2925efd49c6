// arki-scan scans input files into metadata and optionally dispatches the
// messages into a dataset pool.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/cmdutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/dispatch"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/scanner"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func main() {
	app := &cli.App{
		Name:      "arki-scan",
		Usage:     "scan files into metadata, optionally dispatching into datasets",
		ArgsUsage: "file...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dispatch", Usage: "dataset pool directory to dispatch into"},
			&cli.StringFlag{Name: "testdispatch", Usage: "dataset pool directory for a dry-run dispatch trace"},
			&cli.BoolFlag{Name: "dump", Usage: "write the resulting metadata stream to stdout"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "arki-scan: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := cmdutil.RequireArgs(c.Args().Slice(), 1, "arki-scan [--dispatch pool] file..."); err != nil {
		return err
	}
	log, err := cmdutil.NewLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	var pool *cmdutil.Pool
	var dispatcher dispatcherIface
	switch {
	case c.String("dispatch") != "":
		pool, err = cmdutil.LoadPool(c.String("dispatch"), log)
		if err != nil {
			return err
		}
		defer pool.Close()
		dispatcher, err = realDispatcher(pool, log)
	case c.String("testdispatch") != "":
		pool, err = cmdutil.LoadPool(c.String("testdispatch"), log)
		if err != nil {
			return err
		}
		defer pool.Close()
		dispatcher, err = traceDispatcher(pool, log)
	}
	if err != nil {
		return err
	}

	reader := segment.NewReader()
	for _, path := range c.Args().Slice() {
		if err := scanOne(c, path, reader, dispatcher, log); err != nil {
			return err
		}
	}
	return nil
}

type dispatcherIface interface {
	dispatch(c *cli.Context, md *metadata.Metadata, data []byte) error
}

func scanOne(c *cli.Context, path string, reader *segment.Reader, d dispatcherIface, log *zap.Logger) error {
	dir := filepath.Dir(path)
	rel := filepath.Base(path)
	handled, err := scanner.Scan(path, dir, rel, func(md *metadata.Metadata) error {
		if d != nil {
			data, err := md.GetData(reader, nil)
			if err != nil {
				return err
			}
			if err := d.dispatch(c, md, data); err != nil {
				return err
			}
		}
		if c.Bool("dump") {
			_, err := os.Stdout.Write(md.Encode())
			return err
		}
		return nil
	}, "")
	if err != nil {
		return err
	}
	if !handled {
		log.Warn("no scanner handles file", zap.String("path", path))
	}
	return nil
}

type realDispatch struct{ d *dispatch.Dispatcher }

func realDispatcher(pool *cmdutil.Pool, log *zap.Logger) (dispatcherIface, error) {
	d, err := cmdutil.BuildDispatcher(pool, log)
	if err != nil {
		return nil, err
	}
	return &realDispatch{d: d}, nil
}

func (r *realDispatch) dispatch(c *cli.Context, md *metadata.Metadata, data []byte) error {
	outcome, err := r.d.Dispatch(c.Context, md, data, func(*metadata.Metadata) error { return nil })
	if err != nil {
		return err
	}
	name := "(unassigned)"
	if ads, ok := md.Get(types.CodeAssignedDataset); ok {
		name = ads.WriteYAML()
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", name, outcome)
	return nil
}

type traceDispatch struct{ d *dispatch.Dispatcher }

func traceDispatcher(pool *cmdutil.Pool, log *zap.Logger) (dispatcherIface, error) {
	d, err := cmdutil.BuildDispatcher(pool, log)
	if err != nil {
		return nil, err
	}
	return &traceDispatch{d: d}, nil
}

func (t *traceDispatch) dispatch(_ *cli.Context, md *metadata.Metadata, _ []byte) error {
	fmt.Print(t.d.Trace(md))
	return nil
}

// arki-check classifies a dataset's segments and optionally repairs them:
// without flags it reports, --fix runs the fixer, --repack runs the
// repacker, --remove-all deletes every segment.
package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/cmdutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/maintenance"
)

func main() {
	app := &cli.App{
		Name:      "arki-check",
		Usage:     "check and repair dataset consistency",
		ArgsUsage: "dataset-path...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fix", Usage: "apply repairs instead of only reporting"},
			&cli.BoolFlag{Name: "repack", Usage: "run the repacker instead of the fixer"},
			&cli.BoolFlag{Name: "remove-all", Usage: "delete every segment (requires --fix)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "arki-check: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	args := c.Args().Slice()
	if err := cmdutil.RequireArgs(args, 1, "arki-check [--fix] [--repack] dataset-path..."); err != nil {
		return err
	}
	log, err := cmdutil.NewLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	var firstErr error
	for _, root := range args {
		if err := checkOne(c, root, log); err != nil {
			// One dataset's failure never blocks the others.
			fmt.Fprintf(os.Stderr, "arki-check: %s: %v\n", root, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func checkOne(c *cli.Context, root string, log *zap.Logger) error {
	ds, err := dataset.OpenPath(root, dataset.WithLogger(log))
	if err != nil {
		return err
	}
	defer ds.Close()

	if c.Bool("remove-all") {
		return removeAll(c, ds)
	}

	checker := maintenance.NewChecker(ds, maintenance.WithLogger(log))
	var report maintenance.Report
	if c.Bool("repack") {
		r := &maintenance.Repacker{Checker: checker, Fix: c.Bool("fix")}
		report, err = r.Run(c.Context)
	} else {
		f := &maintenance.Fixer{Checker: checker, Fix: c.Bool("fix")}
		report, err = f.Run(c.Context)
	}
	printReport(ds.Name(), report)
	return err
}

func printReport(name string, report maintenance.Report) {
	for _, sr := range report.Classified {
		if sr.State == maintenance.StateOK {
			continue
		}
		fmt.Printf("%s:%s: %s (%s)\n", name, sr.RelPath, sr.State, sr.Reason)
	}
	for _, relpath := range report.Repaired {
		fmt.Printf("%s:%s: repaired\n", name, relpath)
	}
	for _, relpath := range report.Skipped {
		fmt.Printf("%s:%s: skipped\n", name, relpath)
	}
	for _, relpath := range report.Failed {
		fmt.Printf("%s:%s: FAILED\n", name, relpath)
	}
	if len(report.Classified) > 0 && len(report.Repaired)+len(report.Skipped)+len(report.Failed) == 0 {
		clean := true
		for _, sr := range report.Classified {
			if sr.State != maintenance.StateOK {
				clean = false
				break
			}
		}
		if clean {
			fmt.Printf("%s: clean\n", name)
		}
	}
}

func removeAll(c *cli.Context, ds *dataset.Dataset) error {
	if !c.Bool("fix") {
		segments, err := ds.Segments()
		if err != nil {
			return err
		}
		for _, relpath := range segments {
			fmt.Printf("%s:%s: would delete\n", ds.Name(), relpath)
		}
		return nil
	}
	checker := maintenance.NewChecker(ds)
	return maintenance.RemoveAll(c.Context, checker)
}

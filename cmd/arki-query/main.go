// arki-query runs a compiled query against one or more datasets: metadata
// stream by default, with --inline or --data for payloads, --yaml for a
// readable dump, --postproc to pipe the payloads through a whitelisted post-
// processor, --summary for the aggregate.
package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/cmdutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func main() {
	app := &cli.App{
		Name:      "arki-query",
		Usage:     "query datasets by metadata predicate",
		ArgsUsage: "matcher dataset-path...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "data", Usage: "output raw message bytes only"},
			&cli.BoolFlag{Name: "inline", Usage: "embed message bytes after each metadata"},
			&cli.BoolFlag{Name: "yaml", Usage: "output YAML instead of the binary stream"},
			&cli.BoolFlag{Name: "summary", Usage: "output the matching summary"},
			&cli.StringFlag{Name: "postproc", Usage: "pipe payloads through a whitelisted post-processor"},
			&cli.StringFlag{Name: "sort", Usage: "sort clause, e.g. reftime or month:-reftime"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "arki-query: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	args := c.Args().Slice()
	if err := cmdutil.RequireArgs(args, 2, "arki-query [flags] matcher dataset-path..."); err != nil {
		return err
	}
	log, err := cmdutil.NewLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	m, err := matcher.Parse(args[0])
	if err != nil {
		return err
	}

	var readers []query.Reader
	var datasets []*dataset.Dataset
	for _, root := range args[1:] {
		ds, err := dataset.OpenPath(root, dataset.WithLogger(log))
		if err != nil {
			return err
		}
		datasets = append(datasets, ds)
		readers = append(readers, ds)
	}
	defer func() {
		for _, ds := range datasets {
			_ = ds.Close()
		}
	}()

	var reader query.Reader
	if len(readers) == 1 {
		reader = readers[0]
	} else {
		reader = query.NewMerged(log, readers...)
	}

	q := query.DataQuery{Matcher: m, WithData: c.Bool("inline")}
	if expr := c.String("sort"); expr != "" {
		q.Sorter, err = query.ParseSorter(expr)
		if err != nil {
			return err
		}
	} else if len(readers) > 1 {
		// The merge needs an order; reftime is the documented default.
		q.Sorter, _ = query.ParseSorter("reftime")
	}

	switch {
	case c.Bool("summary"):
		s, err := reader.QuerySummary(c.Context, m)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(s.Encode())
		return err

	case c.String("postproc") != "":
		pp := postprocRunner(datasets)
		bq := query.ByteQuery{DataQuery: q, Type: query.BytePostprocess, Param: c.String("postproc")}
		return query.WriteByteQuery(c.Context, reader, bq, dataReader(datasets), os.Stdout, pp, nil)

	case c.Bool("data"):
		bq := query.ByteQuery{DataQuery: q, Type: query.ByteData}
		return query.WriteByteQuery(c.Context, reader, bq, dataReader(datasets), os.Stdout, nil, nil)

	case c.Bool("yaml"):
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return reader.QueryData(c.Context, q, func(md *metadata.Metadata) error {
			doc := map[string]string{}
			for _, code := range types.Codes {
				if item, ok := md.Get(code); ok {
					doc[code.String()] = item.WriteYAML()
				}
			}
			return enc.Encode(doc)
		})

	default:
		return reader.QueryData(c.Context, q, func(md *metadata.Metadata) error {
			if _, err := os.Stdout.Write(md.Encode()); err != nil {
				return err
			}
			if q.WithData {
				if _, err := os.Stdout.Write(md.InlineData()); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// dataReader resolves BLOB sources through the first dataset's shared
// reader; every dataset's sources carry their own absolute basedir, so one
// reader serves them all.
func dataReader(datasets []*dataset.Dataset) metadata.DataReader {
	for _, ds := range datasets {
		if r := ds.DataReader(); r != nil {
			return r
		}
	}
	return nil
}

// postprocRunner merges the queried datasets' postprocess whitelists.
func postprocRunner(datasets []*dataset.Dataset) *query.PostprocessRunner {
	var whitelist []string
	for _, ds := range datasets {
		whitelist = append(whitelist, ds.Config().Postprocess...)
	}
	return &query.PostprocessRunner{Whitelist: whitelist}
}

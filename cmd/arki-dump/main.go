// arki-dump decodes a binary metadata or summary stream into a human-
// readable YAML projection.
package main

import (
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func main() {
	app := &cli.App{
		Name:      "arki-dump",
		Usage:     "decode a binary metadata or summary stream to YAML",
		ArgsUsage: "[input file, default stdin]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "summary", Usage: "input is a summary (SU) stream"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file, default stdout"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "arki-dump: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	in := os.Stdin
	if path := c.Args().First(); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	out := os.Stdout
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	buf, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	if c.Bool("summary") {
		return dumpSummary(buf, out)
	}
	return dumpMetadata(buf, out)
}

func dumpMetadata(buf []byte, out io.Writer) error {
	items, deleted, err := metadata.ReadAll(buf, "")
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	for i, md := range items {
		doc := map[string]string{}
		for _, code := range types.Codes {
			if item, ok := md.Get(code); ok {
				doc[code.String()] = item.WriteYAML()
			}
		}
		if deleted[i] {
			doc["deleted"] = "true"
		}
		for _, note := range md.Notes() {
			doc["note"] = note.Text
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return nil
}

func dumpSummary(buf []byte, out io.Writer) error {
	s, err := summary.Decode(buf)
	if err != nil {
		return err
	}
	var docs []map[string]string
	err = s.Visit(func(items map[types.Code]types.Item, stats summary.Stats) error {
		doc := map[string]string{
			"count": fmt.Sprintf("%d", stats.Count),
			"size":  fmt.Sprintf("%d", stats.Size),
		}
		if rt, ok := stats.Reftime.Result(); ok {
			doc["reftime"] = rt.WriteYAML()
		}
		for code, item := range items {
			doc[code.String()] = item.WriteYAML()
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return nil
}

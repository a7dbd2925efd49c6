// arki-server hosts the HTTP surface over a dataset pool: the endpoints
// remote datasets query against.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/cmdutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
)

func main() {
	app := &cli.App{
		Name:  "arki-server",
		Usage: "serve datasets over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
			&cli.StringFlag{Name: "datasets", Required: true, Usage: "dataset pool directory"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "arki-server: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, err := cmdutil.NewLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	pool, err := cmdutil.LoadPool(c.String("datasets"), log)
	if err != nil {
		return err
	}
	defer pool.Close()

	srv := &server{pool: pool, log: log}
	r := mux.NewRouter()
	r.HandleFunc("/", srv.handleList).Methods(http.MethodGet)
	r.HandleFunc("/dataset/{name}/query", srv.handleQuery).Methods(http.MethodGet)
	r.HandleFunc("/dataset/{name}/summary", srv.handleSummary).Methods(http.MethodGet)

	log.Info("listening", zap.String("addr", c.String("addr")))
	return http.ListenAndServe(c.String("addr"), r)
}

type server struct {
	pool *cmdutil.Pool
	log  *zap.Logger
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	for _, name := range s.pool.Names() {
		fmt.Fprintln(w, name)
	}
}

func (s *server) parseQuery(w http.ResponseWriter, r *http.Request) (query.Reader, query.DataQuery, bool) {
	name := mux.Vars(r)["name"]
	ds, ok := s.pool.Get(name)
	if !ok {
		http.Error(w, "no such dataset", http.StatusNotFound)
		return nil, query.DataQuery{}, false
	}
	m, err := matcher.Parse(r.URL.Query().Get("matcher"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, query.DataQuery{}, false
	}
	q := query.DataQuery{Matcher: m, WithData: r.URL.Query().Get("data") == "1"}
	if expr := r.URL.Query().Get("sort"); expr != "" {
		q.Sorter, err = query.ParseSorter(expr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, query.DataQuery{}, false
		}
	}
	return ds, q, true
}

// handleQuery streams the matching metadata (with inline payloads when
// data=1). Headers go out just before the first byte, so an error found
// before any output still reaches the client as a proper status.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ds, q, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	started := false
	start := func() {
		if !started {
			started = true
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
		}
	}
	err := ds.QueryData(r.Context(), q, func(md *metadata.Metadata) error {
		start()
		if _, err := w.Write(md.Encode()); err != nil {
			return err
		}
		if q.WithData {
			if _, err := w.Write(md.InlineData()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !started {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.log.Warn("query aborted mid-stream", zap.Error(err))
		return
	}
	// An empty result still answers 200 with an empty body on flush.
	start()
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ds, q, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	sum, err := ds.QuerySummary(r.Context(), q.Matcher)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(sum.Encode())
}

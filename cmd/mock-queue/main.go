package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/logging"
	"github.com/shpitdev/bookmark-enricher/internal/mockqueue"
)

func main() {
	app := &cli.App{
		Name:  "mock-queue",
		Usage: "local job queue for `enricher work`",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8945", EnvVars: []string{"MOCK_QUEUE_ADDR"}},
			&cli.StringFlag{Name: "jobs", Usage: "JSONL file of {jobId, queryType, query} to enqueue", EnvVars: []string{"MOCK_QUEUE_JOBS"}},
			&cli.StringFlag{Name: "result-dir", Usage: "directory receiving <jobId>.json results", EnvVars: []string{"MOCK_QUEUE_RESULT_DIR"}},
			&cli.StringFlag{Name: "token", Usage: "required Module-Auth-Token, empty disables", EnvVars: []string{"MOCK_QUEUE_TOKEN"}},
		},
		Action: func(c *cli.Context) error {
			log, err := logging.New("info", "console")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			q := mockqueue.New(c.String("result-dir"))
			q.RequireToken(c.String("token"))
			if path := c.String("jobs"); path != "" {
				n, err := q.LoadJobsFile(path)
				if err != nil {
					return fmt.Errorf("load jobs: %w", err)
				}
				log.Info("jobs loaded", zap.Int("count", n), zap.String("file", path))
			}

			log.Info("mock-queue listening", zap.String("addr", c.String("addr")), zap.String("result_dir", c.String("result-dir")))
			hs := &http.Server{Addr: c.String("addr"), Handler: q.Handler(), ReadHeaderTimeout: 10 * time.Second}
			return hs.ListenAndServe()
		},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "mock-queue: %v\n", err)
		os.Exit(1)
	}
}

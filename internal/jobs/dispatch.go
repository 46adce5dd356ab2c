package jobs

import (
	"context"
	"fmt"
	"strings"
)

// QueryRoutes maps job query types to the HTTP route that serves the same body.
var QueryRoutes = map[string]string{
	"enrichWebpage": "/enrich/webpage",
	"enrichVideo":   "/enrich/video",
	"classify":      "/classify",
}

// Invoker runs a route in-process. *server.Server implements it.
type Invoker interface {
	Invoke(ctx context.Context, path string, body []byte) (int, []byte)
}

// Dispatch routes each job to inv by query type. The route's response body is the job
// result whatever its status, so callers see the same error shapes as over HTTP.
func Dispatch(inv Invoker) Handler {
	return func(ctx context.Context, job Job) (Result, error) {
		route, ok := QueryRoutes[strings.TrimSpace(job.QueryType)]
		if !ok {
			return Result{}, fmt.Errorf("unknown queryType %q", job.QueryType)
		}
		status, body := inv.Invoke(ctx, route, job.Query)
		return Result{Status: status, Body: body}, nil
	}
}

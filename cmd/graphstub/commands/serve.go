package commands

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/nodegraph/internal/graphtest"
	"github.com/dyluth/nodegraph/internal/printer"
	"github.com/spf13/cobra"
)

var (
	serveAddr     string
	serveFixtures string
	serveQuiet    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a fake graph backend",
	Long: `Serve an in-memory graph backend on --addr.

Fixtures file format:
  nodes:
    person-1:
      profile:
        - revision: 3
          data: {name: Ada}
  responses:
    /people:
      node_ids: [person-1]

Writes to /{id}/data/{layer} store a new revision of that layer.

Examples:
  graphstub serve --addr :9229 --fixtures fixtures.yml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:9229", "Listen address")
	serveCmd.Flags().StringVarP(&serveFixtures, "fixtures", "f", "", "YAML fixtures file")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Do not print served requests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	backend := graphtest.New()
	if serveFixtures != "" {
		fixtures, err := graphtest.LoadFixtures(serveFixtures)
		if err != nil {
			return printer.ErrorWithContext(
				"Cannot load fixtures",
				err.Error(),
				map[string]string{"File": serveFixtures},
				[]string{"Check the file exists and matches the format in 'graphstub serve --help'"},
			)
		}
		fixtures.Apply(backend)
		printer.Success("Loaded %d nodes and %d responses\n", len(fixtures.Nodes), len(fixtures.Responses))
	} else {
		printer.Warning("No fixtures given, serving an empty graph\n")
	}

	var handler http.Handler = backend
	if !serveQuiet {
		handler = logRequests(backend)
	}
	srv := &http.Server{Addr: serveAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv)
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	printer.Step("Listening on %s\n", srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return printer.Error("Server failed", err.Error(), []string{"Is another process already listening on " + srv.Addr + "?"})
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return printer.Error("Shutdown failed", err.Error(), nil)
		}
		printer.Success("Stopped\n")
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps dropped-connection failure injection working behind the logger.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = 0
	return hj.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		printer.Request(r.Method, r.URL.RequestURI(), rec.status, time.Since(start))
	})
}

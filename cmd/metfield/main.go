// Command metfield runs a group of ranks that serve meteorological profiles
// to each other.
//
// Every rank reads the same YAML run file. Each profile is placed on one
// server rank, which loads it (or restores it from the field cache); every
// other rank fetches it over the group and prints what it received.
//
// Two modes:
//
//	metfield serve --rank 1 --peers host0:8081,host1:8081 --run run.yaml
//	metfield local --ranks 4 --run run.yaml
//
// serve runs one rank as an HTTP process; local runs every rank as a
// goroutine in this process.
//
// Environment:
//   - METFIELD_RUN: default for --run
//   - METFIELD_RANK: default for --rank
//   - METFIELD_PEERS: default for --peers (comma separated, indexed by rank)
//   - METFIELD_LISTEN: default for --listen (":8081")
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/metfield/internal/group"
	"github.com/dreamware/metfield/internal/logger"
)

// logFatal is a variable to allow mocking in tests
var logFatal = log.Fatalf

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		logFatal("metfield: %v", err)
	}
}

type rootOptions struct {
	runFile string
	verbose bool
	stderr  io.Writer
}

func (o *rootOptions) logger() logger.Logger {
	if o.verbose {
		return logger.NewVerboseLogger(o.stderr)
	}
	return logger.NewStandardLogger(o.stderr)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}
	root := &cobra.Command{
		Use:           "metfield",
		Short:         "Serve meteorological profiles across a group of ranks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.runFile, "run", getenv("METFIELD_RUN", "run.yaml"), "YAML run file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(opts), newLocalCmd(opts))
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		rank         int
		peers        string
		listen       string
		readyTimeout time.Duration
	)
	defaultRank, _ := strconv.Atoi(getenv("METFIELD_RANK", "0"))

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one rank of an HTTP group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rf, err := loadRunFile(opts.runFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			reports, err := serve(ctx, rank, splitPeers(peers), listen, readyTimeout, rf, opts.logger())
			printReports(cmd.OutOrStdout(), reports)
			return err
		},
	}
	cmd.Flags().IntVar(&rank, "rank", defaultRank, "this process's rank")
	cmd.Flags().StringVar(&peers, "peers", getenv("METFIELD_PEERS", ""), "comma separated peer addresses, indexed by rank")
	cmd.Flags().StringVar(&listen, "listen", getenv("METFIELD_LISTEN", ":8081"), "listen address")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 30*time.Second, "how long to wait for every peer to come up")
	return cmd
}

func newLocalCmd(opts *rootOptions) *cobra.Command {
	var (
		ranks int
		seed  int64
	)
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run every rank as a goroutine in this process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rf, err := loadRunFile(opts.runFile)
			if err != nil {
				return err
			}
			reports, err := runLocal(cmd.Context(), ranks, seed, rf, opts.logger())
			printReports(cmd.OutOrStdout(), reports)
			return err
		},
	}
	cmd.Flags().IntVar(&ranks, "ranks", 2, "number of ranks")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for every rank's random sequence")
	return cmd
}

// serve runs rank of an HTTP group until its share of the run file is done.
func serve(ctx context.Context, rank int, peers []string, listen string, readyTimeout time.Duration, rf *RunFile, log logger.Logger) ([]Report, error) {
	h, err := group.NewHTTP(rank, peers, log)
	if err != nil {
		return nil, err
	}
	log = log.WithPrefix("rank[" + strconv.Itoa(rank) + "] ")

	s := &http.Server{
		Addr:              listen,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s (%d ranks)", listen, h.Size())
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			log.Warnf("server shutdown error: %v", err)
		}
		log.Infof("rank stopped")
	}()

	rctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := group.NewReadyProbe(200 * time.Millisecond).WaitReady(rctx, h); err != nil {
		return nil, errors.Wrap(err, "waiting for peers")
	}

	r, err := newRunner(h, rf, log)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var reports []Report
	go func() {
		defer close(done)
		reports, err = r.run()
	}()
	select {
	case <-done:
		return reports, err
	case err := <-serveErr:
		_ = h.Close()
		<-done
		return reports, errors.Wrap(err, "listen")
	case <-ctx.Done():
		_ = h.Close()
		<-done
		return reports, ctx.Err()
	}
}

// runLocal runs every rank of an in-process group and returns their
// reports ordered by rank.
func runLocal(ctx context.Context, n int, seed int64, rf *RunFile, log logger.Logger) ([]Report, error) {
	if n < 1 {
		return nil, errors.Wrapf(group.ErrBadRank, "%d ranks", n)
	}
	ranks := group.NewMem(n, seed, log)

	eg, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		for _, m := range ranks {
			_ = m.Close()
		}
	})
	defer stop()

	var mu sync.Mutex
	var all []Report
	for _, m := range ranks {
		eg.Go(func() error {
			r, err := newRunner(m, rf, log.WithPrefix("rank["+strconv.Itoa(m.ID())+"] "))
			if err != nil {
				return err
			}
			reports, err := r.run()
			mu.Lock()
			all = append(all, reports...)
			mu.Unlock()
			return err
		})
	}
	err := eg.Wait()

	slices.SortStableFunc(all, func(a, b Report) int { return a.Rank - b.Rank })
	return all, err
}

func splitPeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/keydropio/keydrop/internal/config"
	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
)

type benchOptions struct {
	Keys    int
	Racers  int
	MaxUses int
	Format  model.Format
}

func newBenchmarkCmd() *cobra.Command {
	var (
		driver string
		dsn    string
		opts   benchOptions
		format string
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure redemption throughput and verify exactly-once consumption",
		Long: `Issue a batch of keys, then race several concurrent redemptions against each
one. Reports issuance and redemption latency and fails if any key is redeemed
more times than it allows.

Benchmark keys are named "benchmark" and are removed by the normal expiry sweep.`,
		Example: `  keydrop benchmark --driver memory
  keydrop benchmark --keys 1000 --racers 16
  keydrop benchmark --driver postgres --dsn "postgres://localhost/keydrop" --max-uses 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Store.Driver = driver
				cfg.Store.DSN = dsn
			}
			opts.Format = model.Format(format)

			ctx := cmd.Context()
			logger := newLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, cmd.ErrOrStderr())
			st, err := openStore(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open key store (%s): %w", describeStore(cfg.Store), err)
			}
			defer st.Close()

			keys, err := newKeyService(cfg, st, logger)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printBenchBanner(w, describeStore(cfg.Store), opts)
			res, err := runBenchmark(ctx, keys, opts)
			if err != nil {
				return err
			}
			res.print(w)
			if res.Violations > 0 {
				return fmt.Errorf("%d key(s) were redeemed more often than allowed", res.Violations)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "Override store.driver (sqlite, postgres, mysql, mssql, redis, memory)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Connection string for --driver")
	cmd.Flags().IntVar(&opts.Keys, "keys", 200, "Number of keys to issue")
	cmd.Flags().IntVar(&opts.Racers, "racers", 8, "Concurrent redemptions per key")
	cmd.Flags().IntVar(&opts.MaxUses, "max-uses", 1, "Uses allowed per key")
	cmd.Flags().StringVar(&format, "format", "", "Token format (default from keys.default_format)")

	return cmd
}

func printBenchBanner(w io.Writer, target string, opts benchOptions) {
	fmt.Fprintln(w, "Keydrop Benchmark")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Target: %s\n", target)
	fmt.Fprintf(w, "Keys: %d | Racers per key: %d | Max uses: %d\n", opts.Keys, opts.Racers, opts.MaxUses)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w)
}

// benchResult summarises one benchmark run.
type benchResult struct {
	Issued      int
	IssueTime   time.Duration
	Redemptions int64
	Accepted    int64
	Rejected    int64
	Errors      int64
	Violations  int
	RedeemTime  time.Duration
	Latencies   []time.Duration // sorted
	HeapBefore  uint64
	HeapAfter   uint64
}

func runBenchmark(ctx context.Context, keys *service.KeyService, opts benchOptions) (*benchResult, error) {
	if opts.Keys <= 0 || opts.Racers <= 0 {
		return nil, fmt.Errorf("--keys and --racers must be positive")
	}
	if opts.MaxUses <= 0 {
		opts.MaxUses = 1
	}

	res := &benchResult{HeapBefore: heapAlloc()}

	issued := make([]*model.Key, 0, opts.Keys)
	start := time.Now()
	for i := 0; i < opts.Keys; i++ {
		k, err := keys.Issue(ctx, service.IssueRequest{Name: "benchmark", Format: opts.Format, MaxUses: opts.MaxUses})
		if err != nil {
			return nil, fmt.Errorf("issue key %d: %w", i, err)
		}
		issued = append(issued, k)
	}
	res.Issued = len(issued)
	res.IssueTime = time.Since(start)

	var (
		accepted  = make([]atomic.Int64, len(issued))
		total     atomic.Int64
		rejected  atomic.Int64
		errCount  atomic.Int64
		latencies = make([]time.Duration, 0, len(issued)*opts.Racers)
		latencyMu sync.Mutex
		wg        sync.WaitGroup
	)

	start = time.Now()
	for i, k := range issued {
		for r := 0; r < opts.Racers; r++ {
			wg.Add(1)
			go func(i int, tok string) {
				defer wg.Done()
				t0 := time.Now()
				out, err := keys.Validate(ctx, tok)
				elapsed := time.Since(t0)

				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()

				switch {
				case err != nil:
					errCount.Add(1)
				case out.Valid():
					accepted[i].Add(1)
					total.Add(1)
				default:
					rejected.Add(1)
				}
			}(i, k.Token)
		}
	}
	wg.Wait()
	res.RedeemTime = time.Since(start)
	res.Redemptions = int64(len(issued) * opts.Racers)
	res.Accepted = total.Load()
	res.Rejected = rejected.Load()
	res.Errors = errCount.Load()

	for i := range accepted {
		if accepted[i].Load() > int64(opts.MaxUses) {
			res.Violations++
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	res.Latencies = latencies
	res.HeapAfter = heapAlloc()
	return res, nil
}

func (r *benchResult) percentile(p int) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	return r.Latencies[len(r.Latencies)*p/100]
}

func (r *benchResult) print(w io.Writer) {
	fmt.Fprintln(w, "Issuance")
	fmt.Fprintln(w, "--------")
	fmt.Fprintf(w, "  Keys issued:    %d\n", r.Issued)
	fmt.Fprintf(w, "  Duration:       %s\n", r.IssueTime)
	if r.IssueTime > 0 {
		fmt.Fprintf(w, "  Keys/sec:       %.1f\n", float64(r.Issued)/r.IssueTime.Seconds())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Redemption")
	fmt.Fprintln(w, "----------")
	fmt.Fprintf(w, "  Attempts:       %d\n", r.Redemptions)
	fmt.Fprintf(w, "  Accepted:       %d\n", r.Accepted)
	fmt.Fprintf(w, "  Rejected:       %d\n", r.Rejected)
	fmt.Fprintf(w, "  Errors:         %d\n", r.Errors)
	if r.RedeemTime > 0 {
		fmt.Fprintf(w, "  Redeems/sec:    %.1f\n", float64(r.Redemptions)/r.RedeemTime.Seconds())
	}
	if len(r.Latencies) > 0 {
		fmt.Fprintf(w, "  Latency p50:    %s\n", r.percentile(50))
		fmt.Fprintf(w, "  Latency p95:    %s\n", r.percentile(95))
		fmt.Fprintf(w, "  Latency p99:    %s\n", r.percentile(99))
		fmt.Fprintf(w, "  Latency max:    %s\n", r.Latencies[len(r.Latencies)-1])
	}
	if r.Violations == 0 {
		fmt.Fprintln(w, "  Exactly-once:   ok")
	} else {
		fmt.Fprintf(w, "  Exactly-once:   VIOLATED on %d key(s)\n", r.Violations)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Memory")
	fmt.Fprintln(w, "------")
	fmt.Fprintf(w, "  Heap before:    %s\n", formatBytes(r.HeapBefore))
	fmt.Fprintf(w, "  Heap after:     %s\n", formatBytes(r.HeapAfter))
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authsdk"
	"github.com/MrEthical07/authsdk/linking"
)

type options struct {
	emails      int
	methods     int
	concurrency int
	redisAddr   string
	prefix      string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "linkrace",
		Short: "Stress concurrent account linking",
		Long: `linkrace signs in the same email through several login methods at once,
verifies the email/password login methods concurrently, and reports the
latency of each operation, the number of race restarts, and any email that
ended up with more than one user.

Without --redis-addr (or REDIS_ADDR) it runs against an in-process miniredis.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.emails <= 0 || opts.methods <= 0 || opts.concurrency <= 0 {
				return errors.New("emails, methods and concurrency must be > 0")
			}
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.emails, "emails", 200, "distinct emails to race on")
	f.IntVar(&opts.methods, "methods", 4, "third-party login methods per email")
	f.IntVar(&opts.concurrency, "concurrency", 64, "concurrent workers")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; REDIS_ADDR or miniredis when empty")
	f.StringVar(&opts.prefix, "prefix", "linkrace", "redis key prefix")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

func run(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, cleanup, err := redisClient(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := buildEngine(client, opts)
	if err != nil {
		return err
	}
	defer engine.Close()

	start := time.Now()
	stats, err := race(ctx, engine, opts)
	if err != nil {
		return err
	}
	violations, err := check(ctx, engine, opts)
	if err != nil {
		return err
	}

	snap := engine.MetricsSnapshot()
	fmt.Printf("---- results (%s) ----\n", time.Since(start).Round(time.Millisecond))
	for _, name := range []string{"thirdparty", "signup", "verify"} {
		printStats(name, stats[name])
	}
	fmt.Printf("race restarts=%d primary users=%d links=%d deferred=%d\n",
		snap.Counters[authsdk.MetricRaceRestart],
		snap.Counters[authsdk.MetricPrimaryUserCreated],
		snap.Counters[authsdk.MetricAccountsLinked],
		snap.Counters[authsdk.MetricLinkDeferred],
	)
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, "violation:", v)
		}
		return fmt.Errorf("%d email(s) broke the single-primary invariant", len(violations))
	}
	fmt.Println("every email resolved to one primary user")
	return nil
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildEngine(client redis.UniversalClient, opts options) (*authsdk.Engine, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	cfg := authsdk.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.AccountLinking = authsdk.AccountLinkingConfig{
		Enabled:                   true,
		ShouldAutomaticallyLink:   true,
		ShouldRequireVerification: true,
	}
	cfg.Metrics.Enabled = true
	cfg.Redis.KeyPrefix = opts.prefix
	cfg.Log.Env = "dev"
	if opts.verbose {
		cfg.Log.Level = "debug"
	} else {
		cfg.Log.Level = "warn"
	}

	return authsdk.New().
		WithConfig(cfg).
		WithRedis(client).
		WithProvider(providerID, provider{}).
		WithLinkingOptions(linking.WithBcryptCost(bcrypt.MinCost)).
		Build()
}

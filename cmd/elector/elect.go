package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaparticle-io/container-lib/pkg/client"
	"github.com/metaparticle-io/container-lib/pkg/config"
	"github.com/metaparticle-io/container-lib/pkg/election"
	"github.com/metaparticle-io/container-lib/pkg/logging"
)

// pause between leadership terms
const rejoinDelay = time.Second

type electFlags struct {
	server           string
	identity         string
	lock             string
	interval         time.Duration
	flaky            bool
	faultProbability float64
}

func newElectCmd(configPath *string) *cobra.Command {
	f := &electFlags{}

	electCmd := &cobra.Command{
		Use:   "elect",
		Short: "Keep competing for leadership of a lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, func(cfg *config.Config) { f.apply(cmd, cfg) })
			if err != nil {
				return err
			}
			return runElect(cmd.Context(), cfg)
		},
	}

	f.register(electCmd)

	return electCmd
}

func (f *electFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.server, "server", "", "lock server URL")
	flags.StringVar(&f.identity, "identity", "", "owner identity (default hostname)")
	flags.StringVar(&f.lock, "lock", "", "lock name")
	flags.DurationVar(&f.interval, "interval", 0, "wait between acquire attempts and renewals")
	flags.BoolVar(&f.flaky, "flaky", false, "randomly skip renewals so leadership changes hands")
	flags.Float64Var(&f.faultProbability, "fault-probability", 0, "chance a renewal round is skipped with --flaky")
}

func (f *electFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("server") {
		cfg.Client.ServerURL = f.server
	}
	if changed("identity") {
		cfg.Client.Identity = f.identity
	}
	if changed("lock") {
		cfg.Client.LockName = f.lock
	}
	if changed("interval") {
		cfg.Client.Interval = f.interval
	}
	if changed("flaky") {
		cfg.Client.Flaky = f.flaky
	}
	if changed("fault-probability") {
		cfg.Client.FaultProbability = f.faultProbability
	}

	if cfg.Client.Identity == "" {
		cfg.Client.Identity = defaultIdentity()
	}
}

func runElect(ctx context.Context, cfg *config.Config) error {
	logger := logging.New("elector", cfg.Logging)
	cc := cfg.Client

	logger.Info("joining election", "server", cc.ServerURL, "lock", cc.LockName, "identity", cc.Identity, "flaky", cc.Flaky)

	c := client.NewClient(cc.ServerURL, cc.Identity, client.WithLogger(logger.Named("client")))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		e := election.New(c, cc.LockName,
			func() { logger.Info("I am the leader") },
			func() { logger.Info("I lost the leadership") },
			election.WithInterval(cc.Interval),
			election.WithReleaseTimeout(cc.ReleaseTimeout),
			election.WithLogger(logger.Named("election")),
		)
		if cc.Flaky {
			e.SetFlakyForTesting(rng, cc.FaultProbability)
		}

		if err := e.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("election ended with error", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(rejoinDelay):
		}
	}
}

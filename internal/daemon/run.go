// Package daemon wires the coordinator, its collaborators and the
// introspection API into a running process.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"poolnet/config"
	"poolnet/internal/api"
	"poolnet/internal/buildinfo"
	"poolnet/internal/check"
	"poolnet/internal/journal"
	"poolnet/internal/logging"
	"poolnet/internal/miner"
	"poolnet/internal/network"
	"poolnet/internal/results"
	"poolnet/internal/strategy"
	"poolnet/internal/telemetry"
	"poolnet/internal/ui"
)

const tracerName = "poolnet/internal/network"

// Options are the command-line settings for Run. Empty log fields fall
// back to the config file.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	// Console, when set, is read for single-character operator commands.
	Console io.Reader
	// Output receives operator command output.
	Output io.Writer
}

// Run loads the config and runs until ctx is cancelled or a component
// fails.
func Run(ctx context.Context, opts Options) error {
	path := opts.ConfigPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := configureLogging(opts, cfg); err != nil {
		return err
	}
	log := slog.With("component", "daemon")
	log.Info("starting", "version", buildinfo.Version, "config", path, "assertions", check.Enabled())

	traces := telemetry.New(slog.Default())
	defer func() {
		if err := traces.Close(context.Background()); err != nil {
			log.Warn("close tracer", "err", err)
		}
	}()

	netOpts := []network.Option{
		network.WithTickInterval(cfg.Tick),
		network.WithBenchmark(cfg.Benchmark),
		network.WithTracer(traces.Tracer(tracerName)),
	}
	if opts.Output != nil {
		netOpts = append(netOpts, network.WithOutput(opts.Output))
	}

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Warn("close journal", "err", err)
			}
		}()
		totals, err := j.Totals()
		if err != nil {
			return err
		}
		netOpts = append(netOpts, network.WithRecorder(j), network.WithLifetime(totals.Accepted, totals.Rejected))
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = buildinfo.UserAgent()
	}

	var coord *network.Coordinator
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(
			api.SummarizerFunc(func(ctx context.Context) (network.Summary, error) { return coord.Summary(ctx) }),
			api.WithTickInterval(cfg.Tick),
			api.WithUserAgent(userAgent),
		)
		netOpts = append(netOpts, network.WithTicker(apiServer))
	}

	queue := results.New(results.DefaultCapacity)
	m := miner.New(cfg.EnabledAlgorithms())
	factory := strategy.NewFactory(
		strategy.WithRetries(cfg.Retries),
		strategy.WithRetryPause(cfg.RetryPause),
		strategy.WithUserAgent(userAgent),
	)
	coord = network.New(m, factory, queue, cfg, netOpts...)
	defer coord.Close()

	watcher := config.NewWatcher(path, cfg, reloader{miner: m, network: coord})

	for i, p := range cfg.PoolList() {
		log.Info("pool", "index", i+1, "url", p.String(), "algo", p.Algorithm.Name(), "enabled", p.Enabled)
	}
	log.Info("algorithms", "enabled", cfg.EnabledAlgorithms().Names())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	if apiServer != nil {
		g.Go(func() error { return apiServer.Serve(gctx, cfg.API.Listen) })
	}
	if opts.Console != nil {
		// Blocking reads cannot be interrupted, so the console is not part
		// of the group; it exits on the next read after shutdown.
		go runConsole(opts.Console, coord)
	}

	coord.Connect()
	if opts.Output != nil {
		fmt.Fprintln(opts.Output, ui.Muted("commands: s results, c connection"))
	}

	return g.Wait()
}

func configureLogging(opts Options, cfg *config.Config) error {
	level := opts.LogLevel
	if level == "" {
		level = cfg.LogLevel
	}
	format := opts.LogFormat
	if format == "" {
		format = cfg.LogFormat
	}
	return logging.Configure(level, format)
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/procfs"
	"golang.org/x/term"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/corewatt/config"
	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/exporter/stdout"
	"github.com/sustainable-computing-io/corewatt/internal/logger"
	"github.com/sustainable-computing-io/corewatt/internal/monitor"
	"github.com/sustainable-computing-io/corewatt/internal/service"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
	"github.com/sustainable-computing-io/corewatt/internal/version"
)

func main() {
	// parse args and config and exit with error if there is an error
	cfg, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	// stdout belongs to the renderer; logs reaching the same terminal
	// interrupt its in-place redraw
	renderer := stdout.NewRenderer(
		stdout.WithOutput(os.Stdout),
		stdout.WithANSI(isTerminal(os.Stdout)),
	)
	var logOut io.Writer = os.Stderr
	if isTerminal(os.Stderr) {
		logOut = renderer.Interrupts(os.Stderr)
	}
	logger := logger.New(cfg.Log.Level, cfg.Log.Format, logOut)
	logger.Info("corewatt version information", "build", version.Info())
	printConfigInfo(logOut, logger, cfg)

	services, err := createServices(logger, cfg, renderer)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting corewatt")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("corewatt terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func parseArgsAndConfig(args []string) (*config.Config, error) {
	const appName = "corewatt"
	app := kingpin.New(appName, "Per package and per core power monitor for x86 CPUs.")
	app.Version(version.Info().String())

	configFile := app.Flag(config.ConfigFileFlag, "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)
	if _, err := app.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return nil, err
	}

	logger := logger.New("info", "text", os.Stderr)
	builder := &config.Builder{}
	if *configFile != "" {
		logger.Info("Loading configuration file", "path", *configFile)
		builder.MergeFile(*configFile)
	}
	cfg, err := builder.Build()
	if err != nil {
		logger.Error("Error loading configuration", "error", err.Error())
		return nil, err
	}

	// Apply command line flags (these override config file settings)
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func printConfigInfo(w io.Writer, logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(w, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

// registers holds the register source and the vendor it speaks for
type registers struct {
	reader device.RegisterReader
	vendor topology.Vendor
	// topology options the source imposes
	opts []topology.OptionFn
	// releases the source on shutdown; nil when nothing is held
	closer service.Shutdowner
}

func createRegisters(logger *slog.Logger, cfg *config.Config) registers {
	fake := cfg.Dev.FakeRegisters
	if ptr.Deref(fake.Enabled, false) {
		total := fake.Cores * fake.ThreadsPerCore
		logger.Warn("Using fake registers; readings are synthetic",
			"vendor", fake.Vendor, "cores", fake.Cores, "threads", total)
		return registers{
			reader: device.NewFakeRegisters(
				device.WithFakeCPUs(total),
				device.WithFakeEfficiencyThreads(fake.EfficiencyThreads...),
				device.WithFakeLogger(logger),
			),
			vendor: topology.ParseVendor(fake.Vendor),
			opts:   []topology.OptionFn{topology.WithFixedCounts(total, fake.Cores)},
		}
	}

	vendor := topology.VendorUnsupported
	if pfs, err := procfs.NewFS(cfg.Host.ProcFS); err != nil {
		logger.Warn("Failed to open procfs for vendor detection", "path", cfg.Host.ProcFS, "error", err)
	} else {
		vendor = topology.DetectVendor(pfs)
	}

	reader := device.NewMSRReader(cfg.MSR.DevicePath, logger)
	return registers{
		reader: reader,
		vendor: vendor,
		closer: service.Resource(reader.Name(), reader.Close),
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func createServices(logger *slog.Logger, cfg *config.Config, renderer monitor.Renderer) ([]service.Service, error) {
	logger.Debug("Creating all services")

	regs := createRegisters(logger, cfg)
	opts := append([]topology.OptionFn{
		topology.WithLogger(logger),
		topology.WithSysFSPath(cfg.Host.SysFS),
		topology.WithProcFSPath(cfg.Host.ProcFS),
	}, regs.opts...)

	mapper, err := topology.NewMapper(regs.vendor, regs.reader, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create topology mapper: %w", err)
	}
	topo, err := topology.Discover(mapper)
	if err != nil {
		return nil, err
	}
	logTopology(logger, topo)

	pm := monitor.NewPowerMonitor(topo, renderer,
		monitor.WithLogger(logger),
		monitor.WithProcFSPath(cfg.Host.ProcFS),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithDisplayInterval(cfg.Monitor.DisplayInterval),
		monitor.WithPollInterval(cfg.Monitor.PollInterval),
		monitor.WithWindow(cfg.Monitor.Window),
		monitor.WithConcurrent(ptr.Deref(cfg.Monitor.Concurrent, false)),
		monitor.WithCalibration(monitor.CalibrationOpts{
			Enabled:  ptr.Deref(cfg.Calibration.Enabled, true),
			Baseline: cfg.Calibration.Baseline,
			Settle:   cfg.Calibration.Settle,
			Window:   cfg.Calibration.Window,
		}),
	)

	services := []service.Service{}
	if regs.closer != nil {
		services = append(services, regs.closer)
	}
	return append(services,
		pm,
		service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM),
	), nil
}

func logTopology(logger *slog.Logger, topo *topology.Topology) {
	counts := topo.CoreTypeCounts()
	if topo.IsHybrid() {
		logger.Info("Hybrid CPU detected",
			"performance-cores", counts[topology.CoreTypePerformance],
			"efficiency-cores", counts[topology.CoreTypeEfficiency])
	}
	logger.Info("CPU topology discovered", "topology", topo.String())
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	// MSR holds the model specific register device settings
	MSR struct {
		// DevicePath is a printf pattern taking the cpu number
		DevicePath string `yaml:"devicePath"`
	}

	Monitor struct {
		Interval        time.Duration `yaml:"interval"`        // Interval between package samples
		DisplayInterval time.Duration `yaml:"displayInterval"` // Interval between rendered readings
		PollInterval    time.Duration `yaml:"pollInterval"`    // Renderer poll interval in concurrent mode
		Window          int           `yaml:"window"`          // Number of samples averaged per reading
		Concurrent      *bool         `yaml:"concurrent"`
	}

	Calibration struct {
		Enabled  *bool         `yaml:"enabled"`
		Baseline time.Duration `yaml:"baseline"`
		Settle   time.Duration `yaml:"settle"`
		Window   time.Duration `yaml:"window"`
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeRegisters struct {
			Enabled           *bool  `yaml:"enabled"`
			Vendor            string `yaml:"vendor"`
			Cores             int    `yaml:"cores"`
			ThreadsPerCore    int    `yaml:"threadsPerCore"`
			EfficiencyThreads []int  `yaml:"efficiencyThreads"`
		} `yaml:"fake-registers"`
	}

	Config struct {
		Log         Log         `yaml:"log"`
		Host        Host        `yaml:"host"`
		MSR         MSR         `yaml:"msr"`
		Monitor     Monitor     `yaml:"monitor"`
		Calibration Calibration `yaml:"calibration"`
		Dev         Dev         `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	// Flags
	ConfigFileFlag = "config.file"

	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	MSRDevicePathFlag = "msr.device-path"

	MonitorIntervalFlag        = "monitor.interval"
	MonitorDisplayIntervalFlag = "monitor.display-interval"
	MonitorPollInterval        = "monitor.poll-interval" // not a flag
	MonitorWindowFlag          = "monitor.window"
	MonitorConcurrentFlag      = "monitor.concurrent"

	CalibrationEnabledFlag = "calibration.enabled"
	CalibrationBaseline    = "calibration.baseline" // not a flag
	CalibrationSettle      = "calibration.settle"   // not a flag
	CalibrationWindow      = "calibration.window"   // not a flag

	// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
	DevFakeRegisters = "dev.fake-registers"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		MSR: MSR{
			DevicePath: "/dev/cpu/%d/msr",
		},
		Monitor: Monitor{
			Interval:        100 * time.Millisecond,
			DisplayInterval: 200 * time.Millisecond,
			PollInterval:    10 * time.Millisecond,
			Window:          10,
			Concurrent:      ptr.To(false),
		},
		Calibration: Calibration{
			Enabled:  ptr.To(true),
			Baseline: 100 * time.Millisecond,
			Settle:   200 * time.Millisecond,
			Window:   time.Second,
		},
	}

	cfg.Dev.FakeRegisters.Enabled = ptr.To(false)
	cfg.Dev.FakeRegisters.Vendor = "intel"
	cfg.Dev.FakeRegisters.Cores = 4
	cfg.Dev.FakeRegisters.ThreadsPerCore = 2
	cfg.Dev.FakeRegisters.EfficiencyThreads = []int{}
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (cfg *Config, errRet error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil && errRet == nil {
			errRet = err
		}
	}()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	msrDevicePath := app.Flag(MSRDevicePathFlag, "MSR device path pattern; %d is replaced by the cpu number").Default("/dev/cpu/%d/msr").String()

	// monitor
	monitorInterval := app.Flag(MonitorIntervalFlag, "Interval between package energy samples").Default("100ms").Duration()
	monitorDisplayInterval := app.Flag(MonitorDisplayIntervalFlag, "Interval between rendered readings").Default("200ms").Duration()
	monitorWindow := app.Flag(MonitorWindowFlag, "Number of samples in the moving average").Default("10").Int()
	monitorConcurrent := app.Flag(MonitorConcurrentFlag, "Render readings on a separate goroutine").Default("false").Bool()

	calibrationEnabled := app.Flag(CalibrationEnabledFlag, "Calibrate per core type power on startup (Intel only)").Default("true").Bool()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}
		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		if flagsSet[MSRDevicePathFlag] {
			cfg.MSR.DevicePath = *msrDevicePath
		}

		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}
		if flagsSet[MonitorDisplayIntervalFlag] {
			cfg.Monitor.DisplayInterval = *monitorDisplayInterval
		}
		if flagsSet[MonitorWindowFlag] {
			cfg.Monitor.Window = *monitorWindow
		}
		if flagsSet[MonitorConcurrentFlag] {
			cfg.Monitor.Concurrent = monitorConcurrent
		}

		if flagsSet[CalibrationEnabledFlag] {
			cfg.Calibration.Enabled = calibrationEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.MSR.DevicePath = strings.TrimSpace(c.MSR.DevicePath)
	c.Dev.FakeRegisters.Vendor = strings.ToLower(strings.TrimSpace(c.Dev.FakeRegisters.Vendor))
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // host
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // msr
		if strings.Count(c.MSR.DevicePath, "%d") != 1 {
			errs = append(errs, fmt.Sprintf("invalid msr device path: %q must contain %%d exactly once", c.MSR.DevicePath))
		}
	}
	{ // monitor
		if c.Monitor.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor interval: %s must be positive", c.Monitor.Interval))
		}
		if c.Monitor.DisplayInterval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor display interval: %s must be positive", c.Monitor.DisplayInterval))
		}
		if c.Monitor.PollInterval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor poll interval: %s must be positive", c.Monitor.PollInterval))
		}
		if c.Monitor.Window < 1 {
			errs = append(errs, fmt.Sprintf("invalid monitor window: %d must be at least 1", c.Monitor.Window))
		}
	}
	{ // calibration
		if ptr.Deref(c.Calibration.Enabled, false) {
			if c.Calibration.Baseline <= 0 {
				errs = append(errs, fmt.Sprintf("invalid calibration baseline: %s must be positive", c.Calibration.Baseline))
			}
			if c.Calibration.Settle < 0 {
				errs = append(errs, fmt.Sprintf("invalid calibration settle: %s can't be negative", c.Calibration.Settle))
			}
			if c.Calibration.Window <= 0 {
				errs = append(errs, fmt.Sprintf("invalid calibration window: %s must be positive", c.Calibration.Window))
			}
		}
	}
	{ // fake registers
		fake := c.Dev.FakeRegisters
		if ptr.Deref(fake.Enabled, false) {
			if fake.Vendor != "intel" && fake.Vendor != "amd" {
				errs = append(errs, fmt.Sprintf("invalid %s vendor: %q must be intel or amd", DevFakeRegisters, fake.Vendor))
			}
			if fake.Cores < 1 || fake.ThreadsPerCore < 1 {
				errs = append(errs, fmt.Sprintf("invalid %s layout: %d cores with %d threads per core", DevFakeRegisters, fake.Cores, fake.ThreadsPerCore))
			}
			threads := fake.Cores * fake.ThreadsPerCore
			for _, t := range fake.EfficiencyThreads {
				if t < 0 || t >= threads {
					errs = append(errs, fmt.Sprintf("invalid %s efficiency thread: %d not in [0, %d)", DevFakeRegisters, t, threads))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	return err
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{MSRDevicePathFlag, c.MSR.DevicePath},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorDisplayIntervalFlag, c.Monitor.DisplayInterval.String()},
		{MonitorPollInterval, c.Monitor.PollInterval.String()},
		{MonitorWindowFlag, fmt.Sprintf("%d", c.Monitor.Window)},
		{MonitorConcurrentFlag, fmt.Sprintf("%v", ptr.Deref(c.Monitor.Concurrent, false))},
		{CalibrationEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Calibration.Enabled, false))},
		{CalibrationBaseline, c.Calibration.Baseline.String()},
		{CalibrationSettle, c.Calibration.Settle.String()},
		{CalibrationWindow, c.Calibration.Window.String()},
		{DevFakeRegisters, fmt.Sprintf("%v", ptr.Deref(c.Dev.FakeRegisters.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}

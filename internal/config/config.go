package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"kernsched/internal/pcid"
	"kernsched/internal/sched"
)

// Configuration system:
// - config.example.toml can be regenerated with -generate-config
// - Brief comments here are the reference

// AppConfig represents the complete application configuration
type AppConfig struct {
	// HTTP server configuration
	Server ServerConfig `toml:"server"`

	// Scheduler core configuration
	Scheduler SchedulerConfig `toml:"scheduler"`

	// Synthetic workload configuration
	Workload WorkloadConfig `toml:"workload"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Listen address (default: "localhost:9190")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Enable pprof endpoint for debugging (default: true)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// SchedulerConfig carries the compile-time ceilings of the machine the
// scheduler is configured for, plus the host's tick and housekeeping rates.
type SchedulerConfig struct {
	// Number of dispatcher cores. 0 means detect the physical core count,
	// capped at the hardware maximum (default: 0)
	Cores int `toml:"cores"`

	// Timer tick frequency per core in Hz (default: 200)
	TickHz int `toml:"tick_hz"`

	// Time slice per running thread, in ticks (default: 10)
	QuantumTicks int `toml:"quantum_ticks"`

	// Fixed thread control block pool size (default: 1024)
	ThreadCapacity int `toml:"thread_capacity"`

	// Live process ceiling, at most the PCID limit of 4096 (default: 4096)
	MaxProcesses int `toml:"max_processes"`

	// Kernel stack bytes per thread (default: 4096)
	KernelStackSize int `toml:"kernel_stack_size"`

	// Tick window for per-core CPU load averaging (default: 100)
	LoadWindowTicks int `toml:"load_window_ticks"`

	// Housekeeping period for cross-core rebalancing, in ticks of the
	// coordinator clock (default: 200)
	RebalanceTicks int `toml:"rebalance_ticks"`

	// Housekeeping period for zombie reclamation (default: 100)
	ReapTicks int `toml:"reap_ticks"`
}

// WorkloadConfig drives the built-in synthetic workload, which gives the
// scheduler threads to run when the binary is used standalone.
type WorkloadConfig struct {
	// Enable the synthetic workload (default: true)
	Enabled bool `toml:"enabled"`

	// Number of processes to spawn (default: 4)
	Processes int `toml:"processes"`

	// Threads per process, spread over the priority levels (default: 3)
	ThreadsPerProcess int `toml:"threads_per_process"`

	// Issue a synchronous call from each core every N ticks (default: 37)
	SyscallPeriodTicks int `toml:"syscall_period_ticks"`

	// Put the running thread to sleep every N ticks (default: 53)
	SleepPeriodTicks int `toml:"sleep_period_ticks"`

	// Sleep duration in ticks (default: 5)
	SleepTicks int `toml:"sleep_ticks"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file", "syslog"
	Type string `toml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled"`

	// Configuration specific to the output type
	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
	Syslog  *SyslogConfig  `toml:"syslog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time"`

	// Include hostname in filename (default: true)
	HostName bool `toml:"host_name"`

	// Include process ID in filename (default: true)
	ProcessID bool `toml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname"`

	// Syslog tag/program name (default: "kernsched")
	Tag string `toml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
			PprofEnabled:  true,
		},
		Scheduler: SchedulerConfig{
			Cores:           0, // detect
			TickHz:          200,
			QuantumTicks:    10,
			ThreadCapacity:  1024,
			MaxProcesses:    pcid.Ceiling,
			KernelStackSize: 4096,
			LoadWindowTicks: 100,
			RebalanceTicks:  200,
			ReapTicks:       100,
		},
		Workload: WorkloadConfig{
			Enabled:            true,
			Processes:          4,
			ThreadsPerProcess:  3,
			SyscallPeriodTicks: 37,
			SleepPeriodTicks:   53,
			SleepTicks:         5,
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/kernsched.log",
						MaxSize:      10,
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "kernsched",
						Hostname: "",
						Marker:   "@cee:",
						Async:    true,
					},
				},
			},
		},
	}
}

// SchedConfig converts the TOML section into the scheduler's runtime config.
// The core count is resolved by the caller (detection happens at startup).
func (sc SchedulerConfig) SchedConfig(cores int) sched.Config {
	return sched.Config{
		Cores:           cores,
		QuantumTicks:    uint32(sc.QuantumTicks),
		ThreadCapacity:  sc.ThreadCapacity,
		MaxProcesses:    sc.MaxProcesses,
		KernelStackSize: uint32(sc.KernelStackSize),
		LoadWindow:      uint32(sc.LoadWindowTicks),
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates a TOML configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	header := `# kernsched Example Configuration
# This file is auto-generated and serves as an example configuration.
# Copy it to create your own configuration and modify as needed.
#
# Format: TOML (Tom's Obvious, Minimal Language)

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if c.Server.MetricsPath == "" {
		return fmt.Errorf("server.metrics_path cannot be empty")
	}

	sc := c.Scheduler
	if sc.Cores < 0 || sc.Cores > sched.MaxCores {
		return fmt.Errorf("scheduler.cores must be 0 (detect) or 1..%d", sched.MaxCores)
	}
	if sc.TickHz <= 0 {
		return fmt.Errorf("scheduler.tick_hz must be positive")
	}
	if sc.QuantumTicks <= 0 {
		return fmt.Errorf("scheduler.quantum_ticks must be positive")
	}
	if sc.ThreadCapacity <= 0 {
		return fmt.Errorf("scheduler.thread_capacity must be positive")
	}
	if sc.MaxProcesses <= 0 || sc.MaxProcesses > pcid.Ceiling {
		return fmt.Errorf("scheduler.max_processes must be 1..%d", pcid.Ceiling)
	}
	if sc.KernelStackSize <= 0 {
		return fmt.Errorf("scheduler.kernel_stack_size must be positive")
	}
	if sc.LoadWindowTicks <= 0 {
		return fmt.Errorf("scheduler.load_window_ticks must be positive")
	}
	if sc.RebalanceTicks <= 0 || sc.ReapTicks <= 0 {
		return fmt.Errorf("scheduler housekeeping periods must be positive")
	}

	if c.Workload.Enabled {
		if c.Workload.Processes <= 0 || c.Workload.ThreadsPerProcess <= 0 {
			return fmt.Errorf("workload.processes and workload.threads_per_process must be positive")
		}
		if c.Workload.Processes >= sc.MaxProcesses {
			return fmt.Errorf("workload.processes must stay below scheduler.max_processes")
		}
		if c.Workload.SyscallPeriodTicks <= 0 || c.Workload.SleepPeriodTicks <= 0 || c.Workload.SleepTicks <= 0 {
			return fmt.Errorf("workload periods must be positive")
		}
	}

	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}

// Flags holds the command-line flags
type Flags struct {
	ListenAddress  string
	MetricsPath    string
	ConfigPath     string
	GenerateConfig string
}

// NewConfig creates a new configuration by parsing flags and loading the
// config file. A nil, nil return signals a clean exit (config generation).
func NewConfig() (*AppConfig, error) {
	flags := &Flags{}

	flag.StringVar(&flags.ListenAddress,
		"web.listen-address",
		"localhost:9190",
		"Address to listen on for web interface and telemetry.")
	flag.StringVar(&flags.MetricsPath,
		"web.telemetry-path",
		"/metrics",
		"Path under which to expose metrics.")
	flag.StringVar(&flags.ConfigPath,
		"config",
		"",
		"Path to configuration file (optional).")
	flag.StringVar(&flags.GenerateConfig,
		"generate-config",
		"",
		"Generate example config file to specified path and exit.")
	flag.Parse()

	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil
	}

	config := DefaultConfig()
	if flags.ConfigPath != "" {
		var err error
		config, err = LoadConfig(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	if isFlagPassed("web.listen-address") {
		config.Server.ListenAddress = flags.ListenAddress
	}
	if isFlagPassed("web.telemetry-path") {
		config.Server.MetricsPath = flags.MetricsPath
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// isFlagPassed checks if a flag was explicitly set on the command line.
func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Package config loads pcdaemon's tunables: TCP bind address and port,
// serial device path and baud rate, driver install directory, and the
// control-plane command prefix. This layer is deliberately minimal
// encoding/json plus stdlib flag, intentionally not a general-purpose
// flag-parsing framework, shaped after the plain JSON-struct HAL config
// loader this daemon's ancestor codebase uses.
package config

import (
	"encoding/json"
	"flag"
	"os"
)

// Config is the full set of daemon tunables, JSON-unmarshalable from a
// config file and individually overridable by command-line flags.
type Config struct {
	BindAddr      string `json:"bind_addr"`
	Port          int    `json:"port"`
	SerialDevice  string `json:"serial_device"`
	BaudRate      int    `json:"baud_rate"`
	InstallDir    string `json:"install_dir"`
	CommandPrefix string `json:"command_prefix"`
}

// Default returns the baseline configuration used when no file is
// given and no flags override it.
func Default() Config {
	return Config{
		BindAddr:      "0.0.0.0",
		Port:          8080,
		SerialDevice:  "/dev/ttyUSB0",
		BaudRate:      115200,
		InstallDir:    "/usr/local/lib/pcdaemon",
		CommandPrefix: "pc",
	}
}

// Load reads path as JSON over Default, leaving any field path omits at
// its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BindFlags registers one command-line flag per Config field on fs,
// writing into cfg when fs.Parse runs.
func (cfg *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "control-plane TCP bind address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "control-plane TCP port")
	fs.StringVar(&cfg.SerialDevice, "serial", cfg.SerialDevice, "serial device path to the FPGA")
	fs.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial link baud rate")
	fs.StringVar(&cfg.InstallDir, "install-dir", cfg.InstallDir, "driver .so install directory")
	fs.StringVar(&cfg.CommandPrefix, "prefix", cfg.CommandPrefix, "control-plane command prefix")
}

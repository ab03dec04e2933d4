// Command pcdaemon is the FPGA peripheral host daemon: it accepts the
// line-oriented ASCII control protocol on a TCP port and multiplexes it
// into framed packets over a serial link.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/bob-dpi/pcdaemon/config"
	"github.com/bob-dpi/pcdaemon/internal/daemon"
)

func main() {
	var (
		configPath string
		overloads  overloadFlags
	)
	fs := flag.NewFlagSet("pcdaemon", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "path to a JSON config file")
	fs.Var(&overloads, "load", "slotID:filename driver overload, repeatable")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pcdaemon: config load:", err)
		os.Exit(1)
	}
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "pcdaemon",
		Level: hclog.Info,
	})

	// Writes to a peer that has closed its TCP connection would
	// otherwise raise SIGPIPE and kill the process; the daemon must
	// instead see it as a normal write error and tear the session down.
	signal.Ignore(syscall.SIGPIPE)

	d, err := daemon.New(log, daemon.Config{
		BindAddr:      cfg.BindAddr,
		Port:          cfg.Port,
		SerialDevice:  cfg.SerialDevice,
		BaudRate:      cfg.BaudRate,
		InstallDir:    cfg.InstallDir,
		CommandPrefix: cfg.CommandPrefix,
	})
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer d.Close()

	for _, ov := range overloads {
		if err := d.LoadOverload(ov.slot, ov.filename); err != nil {
			log.Error("start-up driver overload failed", "slot", ov.slot, "file", ov.filename, "err", err)
		}
	}

	if err := d.Start(); err != nil {
		log.Error("enumerator start failed", "err", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	if err := d.Run(stop); err != nil {
		log.Error("reactor run exited with error", "err", err)
		os.Exit(1)
	}
}

type overload struct {
	slot     int
	filename string
}

// overloadFlags implements flag.Value for repeated -load slotID:filename
// options.
type overloadFlags []overload

func (o *overloadFlags) String() string {
	if o == nil {
		return ""
	}
	parts := make([]string, len(*o))
	for i, ov := range *o {
		parts[i] = fmt.Sprintf("%d:%s", ov.slot, ov.filename)
	}
	return strings.Join(parts, ",")
}

func (o *overloadFlags) Set(v string) error {
	slotStr, filename, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("expected slotID:filename, got %q", v)
	}
	slot, err := strconv.Atoi(slotStr)
	if err != nil {
		return fmt.Errorf("invalid slot id %q: %w", slotStr, err)
	}
	*o = append(*o, overload{slot: slot, filename: filename})
	return nil
}

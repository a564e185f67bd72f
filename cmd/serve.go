package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/epoq/desktop/internal/bus"
	"github.com/epoq/desktop/internal/config"
	"github.com/epoq/desktop/internal/mdns"
	"github.com/epoq/desktop/internal/pairing"
	"github.com/epoq/desktop/internal/remote"
	"github.com/epoq/desktop/internal/runner"
)

// ServeConfig holds the resolved configuration for the serve command.
type ServeConfig struct {
	Addr        string
	Mdns        bool
	Pair        bool
	QR          bool
	TrainScript string
	PythonBin   string
	ScriptsDir  string
	QueueSize   int
	Overflow    remote.OverflowPolicy
}

// runServe implements the "epoq serve" command. It starts the
// remote-control server, optionally advertises it over mDNS, and
// optionally launches a training script whose output is streamed to
// connected phones.
func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.epoq/config.toml)")
	addr := fs.String("addr", "", "Listen address (default: "+config.DefaultAddr+")")
	mdnsFlag := fs.Bool("mdns", false, "Advertise the server via mDNS/Bonjour")
	pairFlag := fs.Bool("pair", false, "Generate and display connection details on startup")
	qr := fs.Bool("qr", false, "Display connection details as a QR code (requires --pair)")
	train := fs.String("train", "", "Training script to run and stream (overrides train_script)")
	python := fs.String("python", "", "Python interpreter for the training script")
	scriptsDir := fs.String("scripts-dir", "", "Directory resolved against relative script names")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: epoq serve [options]

Start the remote-control server so the companion app can connect,
receive training output, and stop a running training session.

Send SIGHUP to regenerate the pairing code while running.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	fileCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := fileCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// CLI flags take precedence over file values.
	cfg := &ServeConfig{
		Addr:        fileCfg.Addr,
		Mdns:        fileCfg.MdnsEnabled || *mdnsFlag,
		Pair:        *pairFlag,
		QR:          *qr,
		TrainScript: fileCfg.TrainScript,
		PythonBin:   fileCfg.PythonBin,
		ScriptsDir:  fileCfg.ScriptsDir,
		QueueSize:   fileCfg.ClientQueueSize,
		Overflow:    remote.OverflowPolicy(fileCfg.OverflowPolicy),
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}
	if *train != "" {
		cfg.TrainScript = *train
	}
	if *python != "" {
		cfg.PythonBin = *python
	}
	if *scriptsDir != "" {
		cfg.ScriptsDir = *scriptsDir
	}

	return serve(cfg, stdout, stderr)
}

func serve(cfg *ServeConfig, stdout, stderr io.Writer) int {
	port, err := portOf(cfg.Addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid listen address %q: %v\n", cfg.Addr, err)
		return 1
	}

	eventBus := bus.New()
	secrets := pairing.NewSecretStore()

	srv := remote.NewServer(remote.Options{
		Addr:      cfg.Addr,
		Secrets:   secrets,
		Bus:       eventBus,
		QueueSize: cfg.QueueSize,
		Overflow:  cfg.Overflow,
	})

	// A bind failure is fatal to the control channel only. With a training
	// script configured the host keeps running without remote control;
	// otherwise there is nothing left to do.
	channelUp := true
	if err := <-srv.StartAsync(); err != nil {
		if cfg.TrainScript == "" {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "Warning: remote control unavailable: %v\n", err)
		srv.Stop()
		channelUp = false
	}
	defer srv.Stop()

	if channelUp {
		fmt.Fprintf(stdout, "Listening on %s\n", cfg.Addr)
	}

	var advertiser *mdns.Advertiser
	if channelUp && cfg.Mdns {
		advertiser = mdns.NewAdvertiser(mdns.Config{Port: port})
		if err := advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: mDNS advertisement failed: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "Advertising %s via mDNS\n", mdns.ServiceType)
			defer advertiser.Stop()
		}
	}

	if channelUp && cfg.Pair {
		if code := displayPairing(secrets, port, cfg.QR, stdout, stderr); code != 0 {
			return code
		}
	}
	if channelUp && !secrets.HasSecret() {
		// Without a code every authentication fails; remind the operator
		// how to issue one.
		fmt.Fprintln(stderr, "Warning: no pairing code active; restart with --pair or send SIGHUP to generate one.")
	}

	var job *runner.TrainingJob
	if cfg.TrainScript != "" {
		job, err = startTraining(cfg, srv, eventBus, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() {
			if job.Running() {
				job.Stop()
				job.Wait()
			}
		}()
	}

	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")

	// SIGHUP regenerates the pairing code; anything else shuts down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if channelUp {
				displayPairing(secrets, port, cfg.QR, stdout, stderr)
			}
			continue
		}
		fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
		break
	}
	return 0
}

// displayPairing generates a fresh pairing code and prints connection
// details. Regeneration invalidates any previously issued code.
func displayPairing(secrets *pairing.SecretStore, port int, qr bool, stdout, stderr io.Writer) int {
	details, err := pairing.Details(secrets, port)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if qr {
		DisplayQRDetails(stdout, details)
	} else {
		DisplayConnectionDetails(stdout, details)
	}
	return 0
}

// startTraining launches the configured training script under a PTY and
// wires its output and the phone's stop command into the server.
func startTraining(cfg *ServeConfig, srv *remote.Server, eventBus *bus.Bus, stdout io.Writer) (*runner.TrainingJob, error) {
	r := &runner.Runner{PythonBin: cfg.PythonBin, ScriptsDir: cfg.ScriptsDir}
	interpreter, err := r.Interpreter()
	if err != nil {
		return nil, err
	}

	job := runner.NewTrainingJob(func(line string) {
		fmt.Fprintln(stdout, line)
		srv.Broadcast(line)
	})

	eventBus.Subscribe(bus.EventMobileCommand, func(payload string) {
		if payload != remote.ActionStopTraining {
			return
		}
		if err := job.Stop(); err != nil {
			fmt.Fprintf(stdout, "stop requested but no training running\n")
		}
	})

	if err := job.Start(interpreter, r.ScriptPath(cfg.TrainScript)); err != nil {
		return nil, err
	}
	fmt.Fprintf(stdout, "Training started: %s\n", cfg.TrainScript)
	return job, nil
}

// portOf extracts the numeric port from a host:port listen address.
func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

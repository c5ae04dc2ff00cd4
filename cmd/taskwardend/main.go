// Command taskwardend is the scheduler daemon (spec §6.2).
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/taskwarden/taskwarden/internal/config"
	"github.com/taskwarden/taskwarden/internal/logging"
	"github.com/taskwarden/taskwarden/internal/loop"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("taskwardend", pflag.ContinueOnError)

	quiet := fs.Bool("quiet", false, "suppress everything but ERR")
	startPaused := fs.Bool("pause", false, "start paused")
	checkRunning := fs.Bool("check-running", false, "exit 0 if another instance is running, else 1")
	showOptions := fs.Bool("options", false, "print compiled-in optional features and exit")
	logFile := fs.String("log", "", "log file path (default stderr)")
	logLevel := fs.String("log-level", "warn", "log level: trace, debug, info, warn, error")
	logAppend := fs.Bool("log-append", false, "append to --log instead of truncating")
	logPlain := fs.Bool("log-plain", false, "plain (non-colored) human-readable log output")
	logColor := fs.Bool("log-color", false, "colored human-readable log output")
	logJSON := fs.Bool("log-json", false, "one JSON object per log line")
	socketPath := fs.String("socket", defaultSocketPath(), "control-channel unix socket path")
	showVersion := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if *showVersion {
		fmt.Println("taskwardend", version)
		return 0
	}

	if *showOptions {
		features := config.AllFeatures()
		fmt.Printf("dbus=%v\nwmi=%v\n", features.DBus, features.WMI)
		return 0
	}

	if *checkRunning {
		if instanceRunning(*socketPath) {
			return 0
		}
		return 1
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskwardend [options] <config-file>")
		return 2
	}
	configPath := rest[0]

	level, ok := logging.ParseLevel(*logLevel)
	if !ok {
		fmt.Fprintf(os.Stderr, "taskwardend: invalid --log-level %q\n", *logLevel)
		return 2
	}
	format := logging.FormatPlain
	switch {
	case *logJSON:
		format = logging.FormatJSON
	case *logColor:
		format = logging.FormatColor
	case *logPlain:
		format = logging.FormatPlain
	}

	writer := os.Stderr
	if *logFile != "" {
		flags := os.O_CREATE | os.O_WRONLY
		if *logAppend {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(*logFile, flags, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "taskwardend: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		writer = f
	}

	facade := logging.New(logging.Options{Writer: writer, Level: level, Format: format, Quiet: *quiet})
	log := facade.Scope("taskwardend")

	doc, err := config.Decode(configPath, config.AllFeatures())
	if err != nil {
		log.Error("config", configPath, logging.WhenInit, logging.StatusFail, err.Error())
		return 1
	}

	ln, err := acquireSingleInstance(*socketPath)
	if err != nil {
		log.Error("daemon", *socketPath, logging.WhenInit, logging.StatusFail, err.Error())
		return 1
	}
	defer func() {
		ln.Close()
		os.Remove(*socketPath)
	}()

	sched := loop.New(doc, log)
	if *startPaused {
		sched.Pause()
	}
	ctrl := sched.Controller()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		sched.ExitGraceful()
	}()

	go ctrl.ReadLoop(os.Stdin, func(line string, err error) {
		log.Warn("control", "stdin", logging.WhenProc, logging.StatusErr, err.Error())
	})

	go serveControlSocket(ln, ctrl, log)

	log.Info("daemon", configPath, logging.WhenStart, logging.StatusOK, "scheduler started")
	sched.Run(ctx)
	log.Info("daemon", configPath, logging.WhenEnd, logging.StatusOK, "scheduler stopped")
	return 0
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "taskwarden.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("taskwarden-%d.sock", os.Getuid()))
}

// instanceRunning reports whether a live daemon is listening on path.
func instanceRunning(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// acquireSingleInstance binds the control socket, removing a stale
// socket file left behind by a crashed instance first (spec §5,
// "single-instance enforcement").
func acquireSingleInstance(path string) (net.Listener, error) {
	if instanceRunning(path) {
		return nil, fmt.Errorf("another instance is already running at %s", path)
	}
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket: %w", err)
	}
	return ln, nil
}

// serveControlSocket accepts one connection per command: read a line,
// dispatch it, write back a single response line (spec §6.3's NEW
// companion transport, serviced by taskwardenctl).
func serveControlSocket(ln net.Listener, ctrl interface{ Invoke(string) error }, log logging.Scoped) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			if !scanner.Scan() {
				return
			}
			line := scanner.Text()
			if err := ctrl.Invoke(line); err != nil {
				log.Warn("control", "socket", logging.WhenProc, logging.StatusErr, err.Error())
				fmt.Fprintf(conn, "ERR: %s\n", err.Error())
				return
			}
			fmt.Fprintln(conn, "OK")
		}()
	}
}

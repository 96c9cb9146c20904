package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dcastilho/go-serlink/serlink"
)

var (
	port    = flag.String("port", "", "serial port to use (e.g. /dev/ttyUSB0)")
	baud    = flag.Int("baud", 9600, "serial baud rate")
	stdio   = flag.Bool("stdio", false, "speak the protocol on stdin/stdout (for SSH invocation)")
	dir     = flag.String("dir", ".", "output directory")
	prefix  = flag.String("prefix", "", "prefix for output file names")
	loop    = flag.Bool("loop", false, "keep receiving transfers until interrupted")
	idleTmo = flag.Duration("t", 30*time.Second, "idle timeout while waiting for data")
	block   = flag.Int("block", serlink.DefaultMaxPayload, "maximum block size in bytes")
	verbose = flag.Bool("v", false, "verbose mode")
	quiet   = flag.Bool("q", false, "quiet mode")
	logFile = flag.String("log", "", "write a protocol log to this file")
	help    = flag.Bool("h", false, "show help")
)

const versionString = "slrecv version 0.2.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	if info, err := os.Stat(*dir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: output directory %s does not exist\n", *dir)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	transport, cleanup, err := buildTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	session := serlink.NewSession(transport,
		serlink.WithConfig(&serlink.Config{
			MaxPayload:       *block,
			AckTimeout:       3 * time.Second,
			HandshakeTimeout: 30 * time.Second,
			IdleTimeout:      *idleTmo,
			MaxRetries:       5,
			ProgressInterval: 100 * time.Millisecond,
		}),
		serlink.WithCallbacks(buildCallbacks()),
		serlink.WithContext(ctx),
		serlink.WithLogger(logger),
	)

	for {
		path, written, err := session.Receive(*dir)
		if err != nil {
			if serlink.IsCancelled(err) {
				os.Exit(0)
			}
			if n := serlink.TransferredBytes(err); n > 0 {
				fmt.Fprintf(os.Stderr, "Error: %v (partial file kept at byte %d)\n", err, n)
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
		if !*quiet && !*stdio {
			fmt.Fprintf(os.Stderr, "%s: %d bytes\n", path, written)
		}
		if !*loop {
			break
		}
	}
}

func buildTransport() (serlink.Transport, func(), error) {
	if *stdio {
		t := serlink.NewPipeTransport(os.Stdin, os.Stdout)
		return t, func() {}, nil
	}

	if *port == "" {
		return nil, nil, fmt.Errorf("either -port or -stdio is required")
	}
	serialPort, err := serlink.OpenSerial(*port, *baud)
	if err != nil {
		return nil, nil, err
	}
	return serialPort, func() { serialPort.Close() }, nil
}

func buildLogger() (serlink.Logger, error) {
	if *logFile != "" {
		return serlink.NewFileLogger(*logFile)
	}
	// In stdio mode stdout belongs to the protocol, so console logging
	// stays on stderr either way.
	if *verbose {
		return serlink.NewConsoleLogger(os.Stderr, zerolog.DebugLevel), nil
	}
	return serlink.NoopLogger{}, nil
}

func buildCallbacks() *serlink.Callbacks {
	return &serlink.Callbacks{
		ResolvePath: func(outDir, name string) string {
			return filepath.Join(outDir, *prefix+filepath.Base(name))
		},
		OnResume: func(name string, offset int64) {
			if !*quiet {
				fmt.Fprintf(os.Stderr, "Resuming %s at byte %d\n", name, offset)
			}
		},
		OnTransferStart: func(name string, size, offset int64) {
			if *verbose && !*quiet {
				fmt.Fprintf(os.Stderr, "Receiving %s (%d bytes)\n", name, size)
			}
		},
		OnProgress: func(name string, transferred, total int64, rate float64) {
			if *quiet || !*verbose {
				return
			}
			percent := float64(0)
			if total > 0 {
				percent = float64(transferred) / float64(total) * 100
			}
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", name, percent, rate)
		},
		OnTransferComplete: func(name string, bytes int64, duration time.Duration) {
			if *verbose && !*quiet {
				fmt.Fprintf(os.Stderr, "\nCompleted: %s (%d bytes in %v)\n", name, bytes, duration)
			}
		},
	}
}

func signalContext(sigChan chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - receive files over a serial link with resume support

Usage: %s [options]

Options:
  -port DEV   serial port (e.g. /dev/ttyUSB0)
  -baud N     baud rate (default: 9600)
  -stdio      speak the protocol on stdin/stdout (for SSH invocation)
  -dir DIR    output directory (default: current directory)
  -prefix S   prefix output file names with S
  -loop       keep receiving transfers until interrupted
  -block N    maximum block size in bytes (default: %d)
  -t DUR      idle timeout while waiting for data (default: 30s)
  -log FILE   write a protocol log
  -q          quiet mode
  -v          verbose mode
  -h          show this help message

An interrupted transfer keeps the partial file; the sender resumes from
its length on the next attempt.
`, versionString, os.Args[0], serlink.DefaultMaxPayload)
	os.Exit(exitcode)
}

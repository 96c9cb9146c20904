package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/dcastilho/go-serlink/serlink"
)

var (
	port     = flag.String("port", "", "serial port to use (e.g. /dev/ttyUSB0)")
	baud     = flag.Int("baud", 9600, "serial baud rate")
	sshAddr  = flag.String("ssh", "", "send over SSH instead of serial (user@host[:port])")
	sshCmd   = flag.String("ssh-cmd", "slrecv -stdio -dir .", "remote receiver command for -ssh")
	watchDir = flag.String("watch", "", "watch a directory and send files as they appear")
	ackTmo   = flag.Duration("t", 3*time.Second, "acknowledgement timeout")
	retries  = flag.Int("retries", 5, "transmission attempts per block")
	block    = flag.Int("block", serlink.DefaultMaxPayload, "maximum block size in bytes")
	verbose  = flag.Bool("v", false, "verbose mode")
	quiet    = flag.Bool("q", false, "quiet mode")
	logFile  = flag.String("log", "", "write a protocol log to this file")
	help     = flag.Bool("h", false, "show help")
)

const versionString = "slsend version 0.2.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	files := flag.Args()
	if len(files) == 0 && *watchDir == "" {
		fmt.Fprintf(os.Stderr, "%s: no files specified\n", os.Args[0])
		showUsage(1)
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
			AckTimeout:       *ackTmo,
			HandshakeTimeout: 30 * time.Second,
			IdleTimeout:      30 * time.Second,
			MaxRetries:       *retries,
			ProgressInterval: 100 * time.Millisecond,
		}),
		serlink.WithCallbacks(buildCallbacks()),
		serlink.WithContext(ctx),
		serlink.WithLogger(logger),
	)

	exitCode := 0
	for _, file := range files {
		if err := sendOne(session, file); err != nil {
			exitCode = 1
		}
	}

	if *watchDir != "" {
		if err := watchAndSend(ctx, session, *watchDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func sendOne(session *serlink.Session, file string) error {
	transferred, err := session.SendFile(file)
	if err != nil {
		if n := serlink.TransferredBytes(err); n > 0 {
			fmt.Fprintf(os.Stderr, "Error sending %s: %v (resumable at byte %d)\n", file, err, n)
		} else {
			fmt.Fprintf(os.Stderr, "Error sending %s: %v\n", file, err)
		}
		return err
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s: %d bytes\n", filepath.Base(file), transferred)
	}
	return nil
}

// watchAndSend sends every regular file created under dir, one session per
// file. The receiver should run with -loop.
func watchAndSend(ctx context.Context, session *serlink.Session, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Watching %s\n", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			// Let the writer finish before we stat and send.
			time.Sleep(500 * time.Millisecond)
			info, err := os.Stat(event.Name)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			sendOne(session, event.Name)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", werr)
		}
	}
}

func buildTransport() (serlink.Transport, func(), error) {
	if *sshAddr != "" {
		client, err := dialSSH(*sshAddr)
		if err != nil {
			return nil, nil, err
		}
		transport, err := serlink.NewSSHTransport(client, *sshCmd)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return transport, func() {
			transport.Close()
			client.Close()
		}, nil
	}

	if *port == "" {
		return nil, nil, fmt.Errorf("either -port or -ssh is required")
	}
	serialPort, err := serlink.OpenSerial(*port, *baud)
	if err != nil {
		return nil, nil, err
	}
	return serialPort, func() { serialPort.Close() }, nil
}

func dialSSH(addr string) (*ssh.Client, error) {
	user := os.Getenv("USER")
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		user = addr[:at]
		addr = addr[at+1:]
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	fmt.Fprintf(os.Stderr, "%s@%s password: ", user, addr)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(string(password))},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}
	return ssh.Dial("tcp", addr, config)
}

func buildLogger() (serlink.Logger, error) {
	if *logFile != "" {
		return serlink.NewFileLogger(*logFile)
	}
	if *verbose {
		return serlink.NewConsoleLogger(os.Stderr, zerolog.DebugLevel), nil
	}
	return serlink.NoopLogger{}, nil
}

func buildCallbacks() *serlink.Callbacks {
	return &serlink.Callbacks{
		OnResume: func(name string, offset int64) {
			if !*quiet {
				fmt.Fprintf(os.Stderr, "Resuming %s at byte %d\n", name, offset)
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
	fmt.Fprintf(os.Stderr, `%s - send files over a serial link with resume support

Usage: %s [options] file...

Options:
  -port DEV        serial port (e.g. /dev/ttyUSB0)
  -baud N          baud rate (default: 9600)
  -ssh USER@HOST   tunnel the transfer through SSH instead of serial
  -ssh-cmd CMD     remote receiver command (default: "slrecv -stdio -dir .")
  -watch DIR       watch a directory and send files as they appear
  -block N         maximum block size in bytes (default: %d)
  -t DUR           acknowledgement timeout (default: 3s)
  -retries N       transmission attempts per block (default: 5)
  -log FILE        write a protocol log
  -q               quiet mode
  -v               verbose mode
  -h               show this help message

An interrupted transfer leaves the receiver's partial file intact; running
the same command again resumes from where it stopped.
`, versionString, os.Args[0], serlink.DefaultMaxPayload)
	os.Exit(exitcode)
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/voicetotext/internal/bus"
	"github.com/loqalabs/voicetotext/internal/config"
	"github.com/loqalabs/voicetotext/internal/console"
	"github.com/loqalabs/voicetotext/internal/protocol"
	"github.com/loqalabs/voicetotext/internal/stt"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected one of: start, stop, toggle, state, watch, version")
		os.Exit(2)
	}

	var (
		configPath string
		language   string
		timeout    time.Duration
	)
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&language, "lang", "", "Recognition language code (defaults to the runtime's)")
	fs.DurationVar(&timeout, "timeout", 2*time.Second, "Command reply timeout")

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Println(version)
		return
	}
	_ = fs.Parse(os.Args[2:])

	if err := run(cmd, configPath, language, timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd, configPath, language string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bus.Connect(ctx, "vtt-cli", cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	printer := console.NewPrinter(os.Stdout)
	switch cmd {
	case "start":
		return command(ctx, client, protocol.SubjectCommandStart, protocol.StartCommand{Language: language}, timeout, printer)
	case "stop":
		return command(ctx, client, protocol.SubjectCommandStop, nil, timeout, printer)
	case "toggle":
		return command(ctx, client, protocol.SubjectCommandToggle, protocol.StartCommand{Language: language}, timeout, printer)
	case "state":
		return command(ctx, client, protocol.SubjectStateGet, nil, timeout, printer)
	case "watch":
		return watch(ctx, client, timeout, printer)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func command(ctx context.Context, client *bus.Client, subject string, payload any, timeout time.Duration, printer *console.Printer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reply protocol.CommandReply
	if err := client.RequestJSON(ctx, subject, payload, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("%s rejected: %s", subject, reply.Error)
	}
	return printer.Print(stt.StateFromSnapshot(reply.State))
}

// watch prints the current state, then every published change until interrupted.
func watch(ctx context.Context, client *bus.Client, timeout time.Duration, printer *console.Printer) error {
	states := make(chan protocol.StateSnapshot, 16)
	sub, err := client.Conn().Subscribe(protocol.SubjectState, func(msg *nats.Msg) {
		var snap protocol.StateSnapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			return
		}
		select {
		case states <- snap:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe state: %w", err)
	}
	defer sub.Unsubscribe()

	if err := command(ctx, client, protocol.SubjectStateGet, nil, timeout, printer); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-states:
			if err := printer.Print(stt.StateFromSnapshot(snap)); err != nil {
				return err
			}
		}
	}
}

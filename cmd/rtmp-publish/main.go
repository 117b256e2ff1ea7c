// Command rtmp-publish connects to an RTMP(S) destination, runs the publish
// command dialog, and streams pre-encoded AAC/AVC frame records (read from a
// file or stdin) to it until the input is exhausted or the process receives
// a shutdown signal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/alecthomas/kong"
	"github.com/gookit/color"

	rtmp "github.com/ashgrove/rtmp-publish"
	"github.com/ashgrove/rtmp-publish/internal/config"
	errs "github.com/ashgrove/rtmp-publish/internal/errors"
	"github.com/ashgrove/rtmp-publish/internal/logger"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// sendRetryBackoff is how long pumpFrames waits before retrying a send that
// failed with CapacityError (a full per-channel queue).
const sendRetryBackoff = 5 * time.Millisecond

func main() {
	var cli config.CLI
	kctx := kong.Parse(&cli,
		kong.Name("rtmp-publish"),
		kong.Description("Publish pre-encoded AAC/AVC frame records to an RTMP(S) destination."),
	)
	if cli.Version {
		fmt.Println(version)
		return
	}
	if cli.NoColor {
		color.Disable()
	}

	cfg, err := config.Resolve(cli)
	if err != nil {
		kctx.FatalIfErrorf(err)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid log level %q, using default\n", cfg.LogLevel)
	}
	log := logger.Logger().With("component", "cli")

	client, err := rtmp.New(cfg.URL, rtmp.Options{
		DialTimeout: cfg.DialTimeout,
		IdleTimeout: cfg.IdleTimeout,
		FlashVer:    cfg.FlashVer,
		SwfURL:      cfg.SwfURL,
	})
	if err != nil {
		color.Danger.Println("invalid configuration:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.DialTimeout+5*time.Second)
	defer cancelConnect()
	if err := client.Connect(connectCtx); err != nil {
		color.Danger.Println("connect failed:", err)
		os.Exit(1)
	}
	color.Success.Printf("connected: app=%s stream=%s\n", client.Target().App, client.Target().StreamKey)

	input, closeInput := openInput(cfg.Input)
	defer closeInput()

	done := make(chan struct{})
	var sentBytes uint64
	var sendErr error
	go func() {
		defer close(done)
		sentBytes, sendErr = pumpFrames(input, client, log)
	}()

	select {
	case <-done:
		if sendErr != nil && sendErr != io.EOF {
			color.Danger.Println("stream ended with error:", sendErr)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	color.Info.Printf("sent %s, disconnecting\n", bytefmt.ByteSize(sentBytes))
	if err := client.Disconnect(); err != nil {
		log.Warn("disconnect error", "error", err)
	}
}

func openInput(path string) (io.Reader, func()) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}
	}
	f, err := os.Open(path)
	if err != nil {
		color.Danger.Println("cannot open input:", err)
		os.Exit(2)
	}
	return f, func() { f.Close() }
}

// pumpFrames reads frame records until EOF (or a send failure) and routes
// each to the matching Publisher method.
func pumpFrames(r io.Reader, client *rtmp.Client, log interface {
	Warn(msg string, args ...any)
}) (uint64, error) {
	fr := newFrameReader(r)
	var total uint64
	for {
		rec, err := fr.Next()
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		total += uint64(len(rec.Payload))

		if rec.Kind > recordVideoFrame {
			log.Warn("skipping unknown record kind", "kind", rec.Kind)
			continue
		}

		send := func() (int, error) {
			switch rec.Kind {
			case recordMetadata:
				return client.SendPackedMetadata(rec.Payload)
			case recordAudioSpecConfig:
				return client.SendAudioSpecificConfig(rec.Timestamp, rec.Payload)
			case recordAudioFrame:
				return client.SendAudioData(rec.Timestamp, rec.Payload)
			case recordVideoAVCC:
				return client.SendVideoAVCC(rec.Timestamp, rec.Payload)
			default:
				return client.SendVideoFrame(rec.Timestamp, rec.Payload, 0)
			}
		}

		// A full per-channel queue returns a retry indication rather than
		// blocking; back off briefly and retry rather than dropping the frame.
		for attempt := 0; ; attempt++ {
			depth, sendErr := send()
			if errs.IsCapacity(sendErr) {
				log.Warn("send queue full, retrying", "kind", rec.Kind, "depth", depth, "attempt", attempt)
				time.Sleep(sendRetryBackoff)
				continue
			}
			if sendErr != nil {
				return total, sendErr
			}
			break
		}
	}
}

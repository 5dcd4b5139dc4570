// Package loopback runs the signal encoder and decoder back to back in one
// process. Frames travel over an in-memory pipe, optionally through an Opus
// transcoding stage, so the probe can be exercised without a Bluetooth
// device.
package loopback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/btlatency/internal/latency"
	"github.com/MrWong99/btlatency/internal/observe"
	"github.com/MrWong99/btlatency/pkg/pcm"
)

// ErrOpusFormat is returned when the Opus stage is requested for a stream
// it cannot carry.
var ErrOpusFormat = errors.New("loopback: opus requires S16_LE with 1 or 2 channels")

// Config describes a loopback session.
type Config struct {
	Format   pcm.Format
	Channels int
	Rate     int
	Interval time.Duration

	// Opus inserts the Opus transcoding stage.
	Opus bool

	// Sink receives every decoded sample. Required.
	Sink latency.Sink

	// Optional; see [latency.EncoderConfig].
	Clock    latency.Clock
	Rand     *rand.Rand
	Metrics  *observe.Metrics
	Activity *latency.Activity
}

// Run measures the loopback path until ctx is done. Ending by cancellation
// or deadline is a normal end and returns nil; any other stage failure is
// returned.
func Run(ctx context.Context, cfg Config) error {
	codec, err := pcm.NewCodec(cfg.Format, cfg.Channels)
	if err != nil {
		return fmt.Errorf("loopback: %w", err)
	}
	var opus *opusStage
	if cfg.Opus {
		if cfg.Format != pcm.S16LE || cfg.Channels > 2 {
			return ErrOpusFormat
		}
		if opus, err = newOpusStage(cfg.Rate, cfg.Channels); err != nil {
			return err
		}
	}

	encR, encW := io.Pipe()
	decR, decW := encR, encW
	if opus != nil {
		decR, decW = io.Pipe()
	}

	enc, err := latency.NewEncoder(encW, latency.EncoderConfig{
		Codec:    codec,
		Rate:     cfg.Rate,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		Rand:     cfg.Rand,
		Metrics:  cfg.Metrics,
		Activity: cfg.Activity,
	})
	if err != nil {
		return err
	}
	dec, err := latency.NewDecoder(bufio.NewReader(decR), cfg.Sink, latency.DecoderConfig{
		Codec:    codec,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		Metrics:  cfg.Metrics,
		Activity: cfg.Activity,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	// Closing the pipes releases stages blocked in Read or Write.
	stop := context.AfterFunc(gctx, func() {
		encW.CloseWithError(gctx.Err())
		decW.CloseWithError(gctx.Err())
	})
	defer stop()

	log := observe.Logger(ctx)
	log.Info("loopback started",
		"format", cfg.Format,
		"channels", cfg.Channels,
		"rate", cfg.Rate,
		"interval", cfg.Interval,
		"opus", cfg.Opus,
	)

	g.Go(func() error {
		err := enc.Run(gctx)
		encW.CloseWithError(err)
		return err
	})
	if opus != nil {
		g.Go(func() error {
			err := opus.run(gctx, encR, decW)
			encR.CloseWithError(err)
			decW.CloseWithError(err)
			return err
		})
	}
	g.Go(func() error {
		err := dec.Run(gctx)
		decR.CloseWithError(err)
		return err
	})

	err = g.Wait()
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Info("loopback finished", "reason", ctx.Err())
		return nil
	}
	return err
}

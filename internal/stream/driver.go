package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/protocol"
	"go.uber.org/zap"
)

const (
	DefaultReadBuffer   = 4 << 10
	DefaultMaxLineBytes = 16 << 20
	maxLoggedLineRunes  = 200
)

var (
	ErrTransport   = errors.New("stream transport error")
	ErrLineTooLong = errors.New("stream record exceeds size limit")
)

// Decoder parses one framed record.
type Decoder[E any] func(line []byte) (E, error)

// Target is the ledger a driver feeds.
type Target[E any] interface {
	Apply(event E)
	// FailInFlight marks whatever unit of work is running as failed.
	FailInFlight(err error)
	// Terminal reports whether the terminal event of the stream was applied.
	Terminal() bool
}

type Config struct {
	ReadBuffer   int
	MaxLineBytes int
	Logger       *zap.Logger
	// Tap, when set, receives every framed record before it is decoded.
	Tap func(line string)
}

type Stats struct {
	Lines     int
	Events    int
	Malformed int
	Unknown   int
}

type Driver[E any] struct {
	decode       Decoder[E]
	readBuffer   int
	maxLineBytes int
	logger       *zap.Logger
	tap          func(string)
}

func NewDriver[E any](decode Decoder[E], cfg Config) *Driver[E] {
	d := &Driver[E]{
		decode:       decode,
		readBuffer:   cfg.ReadBuffer,
		maxLineBytes: cfg.MaxLineBytes,
		logger:       cfg.Logger,
		tap:          cfg.Tap,
	}
	if d.readBuffer <= 0 {
		d.readBuffer = DefaultReadBuffer
	}
	if d.maxLineBytes <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

func NewPipelineDriver(cfg Config) *Driver[protocol.PipelineEvent] {
	return NewDriver(protocol.DecodePipelineEvent, cfg)
}

func NewRefinementDriver(cfg Config) *Driver[protocol.RefinementEvent] {
	return NewDriver(protocol.DecodeRefinementEvent, cfg)
}

// Run reads body to the end, dispatching each decoded event to target.
//
// A read failure fails the in-flight unit and returns an ErrTransport error.
// A clean end of stream without a terminal event fails the in-flight unit and
// returns domain.ErrStreamEndedUnexpectedly. Cancelling ctx closes body and
// returns ctx.Err() without touching target.
func (d *Driver[E]) Run(ctx context.Context, body io.ReadCloser, target Target[E]) (Stats, error) {
	var stats Stats
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = body.Close()
	})
	defer stop()

	var framer LineFramer
	buf := make([]byte, d.readBuffer)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			d.dispatch(framer.Feed(buf[:n]), target, &stats)
			if framer.Buffered() > d.maxLineBytes {
				err := fmt.Errorf("%w: %d bytes without a newline", ErrLineTooLong, framer.Buffered())
				target.FailInFlight(err)
				return stats, err
			}
		}

		if readErr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}
		if errors.Is(readErr, io.EOF) {
			break
		}

		err := fmt.Errorf("%w: %w", ErrTransport, readErr)
		target.FailInFlight(err)
		return stats, err
	}

	d.dispatch(framer.Flush(), target, &stats)

	if !target.Terminal() {
		d.logger.Warn("stream ended without terminal event", zap.Int("events", stats.Events))
		target.FailInFlight(domain.ErrStreamEndedUnexpectedly)
		return stats, domain.ErrStreamEndedUnexpectedly
	}

	return stats, nil
}

func (d *Driver[E]) dispatch(lines []string, target Target[E], stats *Stats) {
	for _, line := range lines {
		stats.Lines++
		if d.tap != nil {
			d.tap(line)
		}

		event, err := d.decode([]byte(line))
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEventType) {
				stats.Unknown++
				d.logger.Debug("ignoring unknown event", zap.Error(err))
				continue
			}
			stats.Malformed++
			d.logger.Warn("skipping malformed record",
				zap.Error(err),
				zap.String("record", domain.TruncateForDisplay(line, maxLoggedLineRunes)),
			)
			continue
		}

		stats.Events++
		target.Apply(event)
	}
}

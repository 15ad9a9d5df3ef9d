// Package consumer turns the session event stream into a daily session log.
package consumer

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clock "go.llib.dev/testcase/clock"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nashmick001/mikrotik-portal/pkg/config"
	"github.com/nashmick001/mikrotik-portal/pkg/stream"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
	retryDelay      = 5 * time.Second
)

// Log levels written in the session log.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LevelFor maps a session event to its log level.
func LevelFor(event string) string {
	switch event {
	case stream.EventError:
		return LevelError
	case stream.EventWarn:
		return LevelWarn
	case stream.EventStart, stream.EventStop:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// FileName returns the session log file name for the day containing t.
func FileName(t time.Time) string {
	return fmt.Sprintf("session-%s.log", t.Format("2006-01-02"))
}

// Consumer reads session events and appends them to the session log.
type Consumer struct {
	streamClient stream.Stream
	config       stream.ConsumerConfig
	logDir       string
	debug        bool
	log          zerolog.Logger

	mu      sync.Mutex
	day     string
	current *lumberjack.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Consumer reading from streamClient
func New(cfg *config.ConsumerConfig, streamClient stream.Stream, log zerolog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		streamClient: streamClient,
		config: stream.ConsumerConfig{
			StreamKey:     cfg.StreamKey,
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  cfg.ConsumerName,
		},
		logDir: cfg.LogDir,
		debug:  cfg.Debug,
		log:    log.With().Str("component", "consumer").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// writer returns the log file for the current day, opening a new one when
// the date has changed.
func (c *Consumer) writer(now time.Time) io.Writer {
	day := now.Format("2006-01-02")
	if c.current != nil && c.day == day {
		return c.current
	}
	if c.current != nil {
		if err := c.current.Close(); err != nil {
			c.log.Warn().Err(err).Str("day", c.day).Msg("failed to close session log")
		}
	}
	c.day = day
	c.current = &lumberjack.Logger{
		Filename:   filepath.Join(c.logDir, FileName(now)),
		MaxSize:    100,
		MaxBackups: 3,
	}
	return c.current
}

// Write appends one event line: [timestamp] [LEVEL] [EVENT] text.
// Debug lines are skipped unless debug logging is enabled.
func (c *Consumer) Write(msg stream.StreamMessage) error {
	level := LevelFor(msg.Event)
	if level == LevelDebug && !c.debug {
		return nil
	}

	now := clock.Now().UTC()
	line := fmt.Sprintf("[%s] [%s] [%s] %s\n", now.Format(timestampLayout), level, strings.ToUpper(msg.Event), msg.Text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.writer(now), line); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}
	return nil
}

func (c *Consumer) process(messages []stream.StreamMessage) error {
	for _, msg := range messages {
		if err := c.Write(msg); err != nil {
			return err
		}
		c.log.Debug().
			Str("id", msg.ID).
			Str("session_id", msg.SessionID).
			Str("event", msg.Event).
			Msg("session event logged")
	}
	return nil
}

// Start blocks, pulling events until Stop is called.
func (c *Consumer) Start() error {
	c.log.Info().
		Str("stream", c.config.StreamKey).
		Str("group", c.config.ConsumerGroup).
		Str("consumer", c.config.ConsumerName).
		Str("log_dir", c.logDir).
		Msg("starting session log consumer")

	for {
		select {
		case <-c.ctx.Done():
			c.log.Info().Msg("consumer shutting down")
			return c.close()
		default:
		}

		messages, err := c.streamClient.Pull(c.ctx, c.config)
		if err != nil {
			if c.ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			select {
			case <-c.ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}

		if err := c.process(messages); err != nil {
			c.log.Error().Err(err).Msg("error processing session events")
		}
	}
}

// Stop asks Start to return.
func (c *Consumer) Stop() {
	c.cancel()
}

func (c *Consumer) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	err := c.current.Close()
	c.current = nil
	return err
}

package consumer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.llib.dev/testcase/clock/timecop"

	"github.com/nashmick001/mikrotik-portal/pkg/config"
	"github.com/nashmick001/mikrotik-portal/pkg/stream"
)

// mockStream implements stream.Stream interface for testing
type mockStream struct {
	mu          sync.Mutex
	pullResults [][]stream.StreamMessage
	pullErrors  []error
	callCount   int
}

func (m *mockStream) Push(context.Context, string, stream.StreamMessage) error {
	return nil
}

func (m *mockStream) Pull(ctx context.Context, _ stream.ConsumerConfig) ([]stream.StreamMessage, error) {
	m.mu.Lock()
	if m.callCount < len(m.pullResults) {
		result := m.pullResults[m.callCount]
		var err error
		if m.callCount < len(m.pullErrors) {
			err = m.pullErrors[m.callCount]
		}
		m.callCount++
		m.mu.Unlock()
		return result, err
	}
	m.mu.Unlock()

	// behave like a blocking XREADGROUP with nothing pending
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func newConsumer(t *testing.T, s stream.Stream, debug bool) (*Consumer, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.ConsumerConfig{
		LogDir:        dir,
		StreamKey:     "radius:sessions",
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
		Debug:         debug,
	}
	return New(cfg, s, zerolog.Nop()), dir
}

func msg(event, text string) stream.StreamMessage {
	return stream.StreamMessage{SessionID: "sid1", MAC: "aa:bb:cc:dd:ee:ff", Event: event, Text: text}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(content)), "\n")
}

func TestConsumer_StartStop(t *testing.T) {
	c, _ := newConsumer(t, &mockStream{}, false)

	done := make(chan error, 1)
	go func() {
		done <- c.Start()
	}()

	time.Sleep(100 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consumer.Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Consumer did not stop within timeout")
	}
}

func TestConsumer_Write(t *testing.T) {
	// freezing time to avoid flaky tests
	timecop.Travel(t, time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), timecop.Freeze)

	tests := []struct {
		name     string
		debug    bool
		messages []stream.StreamMessage
		expected []string
	}{
		{
			name: "lifecycle without debug",
			messages: []stream.StreamMessage{
				msg(stream.EventStart, "Session started for AA:BB:CC:DD:EE:FF (aa:bb:cc:dd:ee:ff)"),
				msg(stream.EventUpdate, "Session update for AA:BB:CC:DD:EE:FF (aa:bb:cc:dd:ee:ff): IN=1000, OUT=0"),
				msg(stream.EventStop, "Session ended for AA:BB:CC:DD:EE:FF (aa:bb:cc:dd:ee:ff)"),
			},
			expected: []string{
				"[2025-03-01T10:30:00.000Z] [INFO] [START] Session started for AA:BB:CC:DD:EE:FF (aa:bb:cc:dd:ee:ff)",
				"[2025-03-01T10:30:00.000Z] [INFO] [STOP] Session ended for AA:BB:CC:DD:EE:FF (aa:bb:cc:dd:ee:ff)",
			},
		},
		{
			name:  "updates logged with debug",
			debug: true,
			messages: []stream.StreamMessage{
				msg(stream.EventUpdate, "Session update for guest (guest): IN=5, OUT=6"),
			},
			expected: []string{
				"[2025-03-01T10:30:00.000Z] [DEBUG] [UPDATE] Session update for guest (guest): IN=5, OUT=6",
			},
		},
		{
			name: "errors and warnings",
			messages: []stream.StreamMessage{
				msg(stream.EventError, "Error handling session sid1: durable start: database is closed"),
				msg(stream.EventWarn, "late update ignored"),
			},
			expected: []string{
				"[2025-03-01T10:30:00.000Z] [ERROR] [ERROR] Error handling session sid1: durable start: database is closed",
				"[2025-03-01T10:30:00.000Z] [WARN] [WARN] late update ignored",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dir := newConsumer(t, &mockStream{}, tt.debug)
			if err := c.process(tt.messages); err != nil {
				t.Fatalf("process failed: %v", err)
			}
			if err := c.close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}

			lines := readLines(t, filepath.Join(dir, "session-2025-03-01.log"))
			if len(lines) != len(tt.expected) {
				t.Fatalf("Expected %d log lines, got %d: %q", len(tt.expected), len(lines), lines)
			}
			for i := range lines {
				if lines[i] != tt.expected[i] {
					t.Errorf("line %d:\nwant %s\ngot  %s", i, tt.expected[i], lines[i])
				}
			}
		})
	}
}

func TestConsumer_RollsOverDaily(t *testing.T) {
	c, dir := newConsumer(t, &mockStream{}, false)

	timecop.Travel(t, time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC), timecop.Freeze)
	if err := c.Write(msg(stream.EventStart, "first")); err != nil {
		t.Fatal(err)
	}
	timecop.Travel(t, time.Date(2025, 3, 2, 0, 0, 1, 0, time.UTC), timecop.Freeze)
	if err := c.Write(msg(stream.EventStop, "second")); err != nil {
		t.Fatal(err)
	}
	if err := c.close(); err != nil {
		t.Fatal(err)
	}

	for day, want := range map[string]string{"2025-03-01": "first", "2025-03-02": "second"} {
		lines := readLines(t, filepath.Join(dir, fmt.Sprintf("session-%s.log", day)))
		if len(lines) != 1 || !strings.HasSuffix(lines[0], want) {
			t.Errorf("%s: unexpected content %q", day, lines)
		}
	}
}

func TestConsumer_MessageProcessing(t *testing.T) {
	tests := []struct {
		name          string
		pullResults   [][]stream.StreamMessage
		pullErrors    []error
		expectedParts []string
		expectLogFile bool
	}{
		{
			name: "messages across pulls",
			pullResults: [][]stream.StreamMessage{
				{msg(stream.EventStart, "Session started for guest (guest)")},
				{msg(stream.EventStop, "Session ended for guest (guest)")},
			},
			pullErrors:    []error{nil, nil},
			expectedParts: []string{"[START] Session started for guest (guest)", "[STOP] Session ended for guest (guest)"},
			expectLogFile: true,
		},
		{
			name:          "stream pull error handling",
			pullResults:   [][]stream.StreamMessage{nil},
			pullErrors:    []error{fmt.Errorf("Redis connection failed")},
			expectLogFile: false,
		},
		{
			name:          "no messages",
			pullResults:   [][]stream.StreamMessage{{}},
			pullErrors:    []error{nil},
			expectLogFile: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dir := newConsumer(t, &mockStream{pullResults: tt.pullResults, pullErrors: tt.pullErrors}, false)

			done := make(chan error, 1)
			go func() {
				done <- c.Start()
			}()

			// Let it process messages
			time.Sleep(200 * time.Millisecond)
			c.Stop()

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Consumer.Start() returned error: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Consumer did not stop within timeout")
			}

			files, _ := filepath.Glob(filepath.Join(dir, "session-*.log"))
			if !tt.expectLogFile {
				if len(files) != 0 {
					t.Errorf("Expected no log file, found %v", files)
				}
				return
			}
			if len(files) != 1 {
				t.Fatalf("Expected one log file, found %v", files)
			}
			content, err := os.ReadFile(files[0])
			if err != nil {
				t.Fatalf("Failed to read log file: %v", err)
			}
			for _, part := range tt.expectedParts {
				if !strings.Contains(string(content), part) {
					t.Errorf("Expected log content to contain: %s\nGot: %s", part, content)
				}
			}
		})
	}
}

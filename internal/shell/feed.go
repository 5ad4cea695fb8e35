package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/emilemassie/gemini-receipts/internal/batch"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
)

// subscriberBuffer is how far a subscriber may fall behind before it is dropped
const subscriberBuffer = 256

// entry is a logged event with its stream id, "<run id>:<position in log>"
type entry struct {
	ID    string
	Event batch.Event
}

func eventID(runID string, seq int) string {
	return fmt.Sprintf("%s:%d", runID, seq)
}

// parseEventID splits an id produced by eventID; ok is false for anything else
func parseEventID(id string) (runID string, seq int, ok bool) {
	i := strings.LastIndex(id, ":")
	if i < 0 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil || seq < 1 {
		return "", 0, false
	}
	return id[:i], seq, true
}

// feed keeps the log of the current run and fans its events out to subscribers
type feed struct {
	mu    sync.Mutex
	runID string
	log   []batch.Event
	subs  map[chan entry]struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[chan entry]struct{})}
}

// reset starts a new log for runID
func (f *feed) reset(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runID = runID
	f.log = nil
}

// publish appends ev to the log and sends it to every subscriber.
// Events from an earlier run are dropped. A subscriber whose buffer is full
// is closed; it can reconnect with its last event id and resume.
func (f *feed) publish(ev batch.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ev.RunID != f.runID {
		return
	}
	f.log = append(f.log, ev)
	e := entry{ID: eventID(f.runID, len(f.log)), Event: ev}

	for ch := range f.subs {
		select {
		case ch <- e:
		default:
			delete(f.subs, ch)
			close(ch)
		}
	}
}

// snapshot returns a copy of the current log
func (f *feed) snapshot() (string, []batch.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runID, append([]batch.Event(nil), f.log...)
}

// subscribe returns the log entries after lastID and a channel of later ones.
// An empty or unknown lastID, or one from another run, replays the whole log.
// The returned func unsubscribes.
func (f *feed) subscribe(lastID string) ([]entry, <-chan entry, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan entry, subscriberBuffer)
	f.subs[ch] = struct{}{}

	from := 0
	if runID, seq, ok := parseEventID(lastID); ok && runID == f.runID && seq <= len(f.log) {
		from = seq
	}
	replay := make([]entry, 0, len(f.log)-from)
	for i := from; i < len(f.log); i++ {
		replay = append(replay, entry{ID: eventID(f.runID, i+1), Event: f.log[i]})
	}

	return replay, ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

// pump drains one run's events into the feed and closes the run's scanner
// once the stream ends
func (f *feed) pump(events <-chan batch.Event, scanner scanning.Scanner) {
	defer func() {
		if err := scanner.Close(); err != nil {
			slog.Warn("Failed to close scanner", "error", err)
		}
	}()

	for ev := range events {
		level := slog.LevelInfo
		if ev.Severity == batch.SeverityError {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, ev.Message, "run_id", ev.RunID, "kind", ev.Kind, "file", ev.File)
		f.publish(ev)
	}
}

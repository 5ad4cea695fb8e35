// Package batch runs receipt extraction over a folder of images and writes the results as CSV.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emilemassie/gemini-receipts/internal/extract"
	"github.com/emilemassie/gemini-receipts/internal/receipt"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Result summarizes a finished run
type Result struct {
	RunID      string
	State      State
	Rows       int
	Processed  int
	Failed     int
	OutputPath string
	Err        error
}

type emitFunc func(kind Kind, sev Severity, file, format string, args ...any)

// Pipeline extracts receipts from every image in a folder, one file at a time
type Pipeline struct {
	scanner    scanning.Scanner
	writer     receipt.Writer
	timeSource TimeSource
}

// NewPipeline creates a new Pipeline with the default time source
func NewPipeline(scanner scanning.Scanner, writer receipt.Writer) *Pipeline {
	return NewPipelineWithDeps(scanner, writer, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a new Pipeline with custom dependencies for testing
func NewPipelineWithDeps(scanner scanning.Scanner, writer receipt.Writer, timeSrc TimeSource) *Pipeline {
	return &Pipeline{
		scanner:    scanner,
		writer:     writer,
		timeSource: timeSrc,
	}
}

// Run processes job synchronously. Files are visited in directory order and
// token is checked before each one; a cancelled run still writes the rows
// collected so far. Per-file failures are reported as events and skipped.
// Events are sent on events, which the caller must drain; it is not closed.
func (p *Pipeline) Run(ctx context.Context, runID string, job Job, token *Token, events chan<- Event) Result {
	res := Result{RunID: runID, OutputPath: job.OutputPath}
	emit := func(kind Kind, sev Severity, file, format string, args ...any) {
		if events == nil {
			return
		}
		events <- Event{
			RunID:    runID,
			Kind:     kind,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
			File:     file,
			Time:     p.timeSource.Now(),
		}
	}

	slog.Info("Starting batch run", "run_id", runID, "input", job.InputFolder, "output", job.OutputPath)
	emit(KindStarted, SeverityInfo, "", "Running...")

	entries, err := listDir(job.InputFolder)
	if err != nil {
		res.State = StateFailed
		res.Err = fmt.Errorf("listing input folder: %w", err)
		slog.Error("Batch run failed", "run_id", runID, "error", res.Err)
		emit(KindFailed, SeverityError, "", "Failed to list %s: %v", job.InputFolder, err)
		return res
	}

	var records []receipt.Record
	for _, entry := range entries {
		if token.Cancelled() || ctx.Err() != nil {
			res.State = StateCancelled
			slog.Info("Batch run stopped", "run_id", runID, "processed", res.Processed)
			emit(KindCancelled, SeverityError, "", "Process stopped")
			break
		}

		name := entry.Name()
		if entry.IsDir() || !IsImage(name) {
			continue
		}

		emit(KindProcessing, SeverityInfo, name, "Processing %s...", name)
		res.Processed++

		recs, err := p.processFile(ctx, job.InputFolder, name, emit)
		if err == nil {
			records = append(records, recs...)
			continue
		}

		res.Failed++
		slog.Error("Failed to process receipt image",
			"run_id", runID,
			"filename", name,
			"error", err,
		)
		emit(KindFileError, SeverityError, name, "Error processing %s: %v", name, err)
	}

	emit(KindSaving, SeverityInfo, "", "Saving to CSV...")
	if err := p.writer.Write(job.OutputPath, records); err != nil {
		res.State = StateFailed
		res.Err = &OutputWriteError{Path: job.OutputPath, Cause: err}
		slog.Error("Failed to write CSV", "run_id", runID, "path", job.OutputPath, "error", err)
		emit(KindFailed, SeverityError, "", "Failed to save CSV: %v", res.Err)
		return res
	}

	res.Rows = len(records)
	if res.State == "" {
		res.State = StateCompleted
	}
	slog.Info("Batch run finished",
		"run_id", runID,
		"state", res.State,
		"rows", res.Rows,
		"processed", res.Processed,
		"failed", res.Failed,
	)
	emit(KindCompleted, SeveritySuccess, "", "Done! CSV saved as: %s", job.OutputPath)
	return res
}

// processFile reads, decodes and scans one image and extracts its records
func (p *Pipeline) processFile(ctx context.Context, dir, name string, emit emitFunc) ([]receipt.Record, error) {
	data, err := readFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}

	img, err := scanning.PrepareImage(data, scanning.ContentType(name))
	if err != nil {
		return nil, err
	}

	text, err := p.scanner.Extract(ctx, img)
	if err != nil {
		return nil, &InferenceError{Cause: err}
	}
	emit(KindModelResponse, SeverityInfo, name, "Model response: %s", text)

	return extract.Records(text, name)
}

// listDir returns the entries of dir in the order the filesystem reports them
func listDir(dir string) ([]os.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.ReadDir(-1)
}

// readFile reads an image; the handle is closed before returning on every path
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

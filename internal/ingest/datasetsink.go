package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AlecFessler/hand-motion-capture/internal/fanout"
)

// DatasetSink drains a fanout subscription to disk: one raw YUV file
// per frame under <dir>/<camera>/, plus an append-only
// timestamps.csv index pairing filenames with wire timestamps.
type DatasetSink struct {
	dir    string
	frames <-chan fanout.Frame
	done   chan struct{}

	indexes map[string]*os.File
}

// NewDatasetSink creates a sink writing under dir.
func NewDatasetSink(dir string, frames <-chan fanout.Frame) *DatasetSink {
	return &DatasetSink{
		dir:     dir,
		frames:  frames,
		done:    make(chan struct{}),
		indexes: make(map[string]*os.File),
	}
}

// Run consumes frames until the subscription closes or ctx ends.
func (d *DatasetSink) Run(ctx context.Context) error {
	defer close(d.done)
	defer d.closeIndexes()

	for {
		select {
		case f, ok := <-d.frames:
			if !ok {
				return nil
			}
			if err := d.write(f); err != nil {
				slog.Error("dataset write failed",
					"camera", f.Camera,
					"timestamp_ns", f.TimestampNS,
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done closes once Run has returned.
func (d *DatasetSink) Done() <-chan struct{} { return d.done }

func (d *DatasetSink) write(f fanout.Frame) error {
	camDir := filepath.Join(d.dir, f.Camera)
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		return fmt.Errorf("ingest: create %s: %w", camDir, err)
	}

	name := fmt.Sprintf("%020d.yuv", f.TimestampNS)
	if err := os.WriteFile(filepath.Join(camDir, name), f.Data, 0o644); err != nil {
		return fmt.Errorf("ingest: write frame: %w", err)
	}

	idx, err := d.index(f.Camera, camDir)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(idx, "%s,%d,%d\n", name, f.TimestampNS, len(f.Data)); err != nil {
		return fmt.Errorf("ingest: append index: %w", err)
	}
	return nil
}

func (d *DatasetSink) index(camera, camDir string) (*os.File, error) {
	if f, ok := d.indexes[camera]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(camDir, "timestamps.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ingest: open index: %w", err)
	}
	d.indexes[camera] = f
	return f, nil
}

func (d *DatasetSink) closeIndexes() {
	for _, f := range d.indexes {
		f.Close()
	}
}

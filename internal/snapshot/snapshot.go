package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/model"
)

const fileName = "orders.jsonl"

type Ranger interface {
	Range(ctx context.Context, fn func(rec model.PersistedOrder) error) error
}

type Upserter interface {
	Upsert(ctx context.Context, rec model.PersistedOrder) error
}

// FilesystemSnapshotter dumps the order store to <baseDir>/<id>/orders.jsonl and loads it back.
type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// NewID returns a sortable snapshot id.
func NewID() string { return ulid.Make().String() }

// WriteSnapshot writes every stored order and returns how many were written.
// The file is written under a temporary name and renamed once complete.
func (f *FilesystemSnapshotter) WriteSnapshot(ctx context.Context, snapshotID string, st Ranger) (int, error) {
	dir := filepath.Join(f.baseDir, snapshotID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir: %w", err)
	}
	final := filepath.Join(dir, fileName)
	tmp := final + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}

	w := bufio.NewWriter(out)
	n := 0
	err = st.Range(ctx, func(rec model.PersistedOrder) error {
		n++
		return jsoncodec.Encode(w, rec)
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write snapshot %s: %w", snapshotID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

// LoadSnapshot upserts every order of snapshotID into st and returns how many were loaded.
// Orders already present are overwritten.
func (f *FilesystemSnapshotter) LoadSnapshot(ctx context.Context, snapshotID string, st Upserter) (int, error) {
	in, err := os.Open(filepath.Join(f.baseDir, snapshotID, fileName))
	if err != nil {
		return 0, fmt.Errorf("open snapshot %s: %w", snapshotID, err)
	}
	defer in.Close()

	r := bufio.NewReader(in)
	n := 0
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var rec model.PersistedOrder
			if derr := jsoncodec.Unmarshal(line, &rec); derr != nil {
				return n, fmt.Errorf("decode line %d: %w", n+1, derr)
			}
			if uerr := st.Upsert(ctx, rec); uerr != nil {
				return n, uerr
			}
			n++
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read snapshot %s: %w", snapshotID, err)
		}
	}
}

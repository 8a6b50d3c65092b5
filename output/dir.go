package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/oft-to-eml/model"
)

// DirSink writes each document to its own file in a directory. Data
// goes to a temp file first and is renamed into place, so a crashed run
// never leaves a truncated .eml behind. Name collisions get a numeric
// suffix before the extension.
type DirSink struct {
	dir    string
	logger *slog.Logger
}

func NewDirSink(dir string, logger *slog.Logger) (*DirSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &DirSink{dir: dir, logger: logger}, nil
}

func (d *DirSink) Store(ctx context.Context, conv model.Converted) error {
	target, err := d.freeName(conv.Name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, ".eml-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(conv.Raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", target, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}

	if !conv.Date.IsZero() {
		if err := os.Chtimes(target, conv.Date, conv.Date); err != nil {
			d.logger.Warn("set file time failed", "path", target, "err", err)
		}
	}

	if base := filepath.Base(target); base != conv.Name {
		d.logger.Info("output name taken, renamed", "want", conv.Name, "got", base)
	}

	return nil
}

func (d *DirSink) Close() error { return nil }

// freeName returns the first unused path for name inside the sink
// directory, suffixing the stem with -2, -3, ... on collision.
func (d *DirSink) freeName(name string) (string, error) {
	target := filepath.Join(d.dir, name)
	if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
		return target, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; i <= 10000; i++ {
		candidate := filepath.Join(d.dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free name for %s in %s", name, d.dir)
}

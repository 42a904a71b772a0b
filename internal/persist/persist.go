// Package persist implements append-only JSONL storage for the optional
// on-disk peer-book cache, grounded on the teacher's append/scan store
// pattern: one JSON object per line, fsync'd on write, read back with a
// bounded bufio.Scanner.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const maxLineSize = 64 * 1024

// MaxRotations bounds how many rotated backups (.1, .2, ...) a JSONL file
// keeps before the oldest is discarded.
const MaxRotations = 3

// RotateSizeBytes is the threshold past which Append rotates the file
// before writing, keeping any single JSONL file from growing unbounded.
const RotateSizeBytes = 4 * 1024 * 1024

// AppendJSONL appends v as one JSON line to path, creating parent
// directories and the file as needed, and fsyncs before returning.
func AppendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("persist: mkdir: %w", err)
	}
	if err := maybeRotate(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	return f.Sync()
}

// ReadJSONL passes every line of path to unmarshal, skipping lines for
// which unmarshal returns an error rather than failing the whole read. Returns no
// error if path does not exist yet.
func ReadJSONL(path string, unmarshal func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persist: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		if err := unmarshal(sc.Bytes()); err != nil {
			continue
		}
	}
	return sc.Err()
}

// maybeRotate shifts path -> path.1 -> path.2 ... once path exceeds
// RotateSizeBytes, discarding anything past MaxRotations.
func maybeRotate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < RotateSizeBytes {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", path, MaxRotations)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := MaxRotations - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		to := fmt.Sprintf("%s.%d", path, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(path, path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Truncate removes path and all its rotated backups, used by tests that
// need a clean slate.
func Truncate(path string) error {
	for i := 0; i <= MaxRotations; i++ {
		p := path
		if i > 0 {
			p = fmt.Sprintf("%s.%d", path, i)
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Package dataset reads and writes the delimited record sets the batch
// orchestrator augments. Every error this package returns is a dataset I/O
// failure and aborts the run before any network activity.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Output columns stamped into the record set. The marker column is
// configurable because existing datasets may already carry one.
const (
	ColumnLinks   = "download_links"
	ColumnSummary = "remediation_summary"
	ColumnStatus  = "url_status"

	DefaultMarkerColumn = "resolved_at"
	DefaultDelimiter    = ";"
)

// ErrDataset tags every failure from this package so callers can distinguish
// dataset I/O from per-URL trouble.
var ErrDataset = errors.New("dataset error")

// Config names the columns and the in-cell delimiter.
type Config struct {
	URLColumn    string
	MarkerColumn string
	Delimiter    string
}

// Dataset is one loaded record set: a header plus ordered rows. Rows keep
// their input order through merge and persist.
type Dataset struct {
	path   string
	cfg    Config
	header []string
	rows   [][]string
	index  map[string]int
}

// Load reads the record set. A missing URL column, an empty file, or an
// unreadable file are all fatal.
func Load(path string, cfg Config) (*Dataset, error) {
	if cfg.URLColumn == "" {
		return nil, fmt.Errorf("%w: url column not configured", ErrDataset)
	}
	if cfg.MarkerColumn == "" {
		cfg.MarkerColumn = DefaultMarkerColumn
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDataset, path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header of %s: %v", ErrDataset, path, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	if _, ok := index[cfg.URLColumn]; !ok {
		return nil, fmt.Errorf("%w: column %q not found in %s", ErrDataset, cfg.URLColumn, path)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrDataset, path, err)
		}
		// Ragged rows are padded so column writes cannot go out of range.
		for len(row) < len(header) {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s contains no records", ErrDataset, path)
	}

	return &Dataset{
		path:   path,
		cfg:    cfg,
		header: header,
		rows:   rows,
		index:  index,
	}, nil
}

// Len returns the record count.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Delimiter returns the configured in-cell delimiter.
func (d *Dataset) Delimiter() string {
	return d.cfg.Delimiter
}

// URLs returns the delimiter-joined URL cell of one record, split and
// trimmed. Records with an empty cell yield nil.
func (d *Dataset) URLs(row int) []string {
	cell := d.cell(row, d.cfg.URLColumn)
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, d.cfg.Delimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Processed reports whether a prior run already stamped the marker column.
func (d *Dataset) Processed() bool {
	col, ok := d.index[d.cfg.MarkerColumn]
	if !ok {
		return false
	}
	for _, row := range d.rows {
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			return true
		}
	}
	return false
}

// EnsureColumn appends the column to the header if absent and returns its
// position.
func (d *Dataset) EnsureColumn(name string) int {
	if i, ok := d.index[name]; ok {
		return i
	}
	d.header = append(d.header, name)
	i := len(d.header) - 1
	d.index[name] = i
	for r := range d.rows {
		for len(d.rows[r]) < len(d.header) {
			d.rows[r] = append(d.rows[r], "")
		}
	}
	return i
}

// SetCell writes a value, creating the column on first use.
func (d *Dataset) SetCell(row int, column, value string) {
	col := d.EnsureColumn(column)
	d.rows[row][col] = value
}

// StampMarker writes the completion timestamp into every record.
func (d *Dataset) StampMarker(at time.Time) {
	stamp := at.UTC().Format(time.RFC3339)
	for row := range d.rows {
		d.SetCell(row, d.cfg.MarkerColumn, stamp)
	}
}

// CheckWritable probes the output path before any fetch happens, so a locked
// or read-only file fails the run up front.
func (d *Dataset) CheckWritable() error {
	f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: output not writable: %v", ErrDataset, err)
	}
	return f.Close()
}

// Persist writes the augmented record set back, optionally keeping a backup
// of the original. The write goes through a temp file and rename so a crash
// cannot leave a half-written dataset.
func (d *Dataset) Persist(backup bool) error {
	if backup {
		if err := d.writeBackup(); err != nil {
			return err
		}
	}

	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrDataset, d.path, err)
	}

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".patchtrace-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrDataset, err)
	}
	tmpName := tmp.Name()

	// CreateTemp opens 0600; carry the original mode through the rename.
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: chmod temp file: %v", ErrDataset, err)
	}

	writer := csv.NewWriter(tmp)
	if err := writer.Write(d.header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write header: %v", ErrDataset, err)
	}
	if err := writer.WriteAll(d.rows); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write rows: %v", ErrDataset, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: flush: %v", ErrDataset, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", ErrDataset, err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", ErrDataset, d.path, err)
	}
	return nil
}

func (d *Dataset) writeBackup() error {
	src, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("%w: open for backup: %v", ErrDataset, err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.bak-%s", d.path, time.Now().UTC().Format("20060102T150405"))
	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("%w: create backup: %v", ErrDataset, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: write backup: %v", ErrDataset, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: close backup: %v", ErrDataset, err)
	}
	return nil
}

func (d *Dataset) cell(row int, column string) string {
	col, ok := d.index[column]
	if !ok || row < 0 || row >= len(d.rows) || col >= len(d.rows[row]) {
		return ""
	}
	return strings.TrimSpace(d.rows[row][col])
}

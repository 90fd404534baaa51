package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// DefaultTagSeparator joins a listing's tags into the CSV tags column.
const DefaultTagSeparator = "; "

var listingColumns = []string{
	"identifier",
	"url",
	"license_plate",
	"construction_year",
	"mileage",
	"price",
	"seller_name",
	"seller_identifier",
	"tags",
}

// CSVOptions shape the CSV rows.
type CSVOptions struct {
	TagSeparator string
}

// CSVWriter writes one row per listing under a fixed header.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	csv    *csv.Writer
	tagSep string
	rows   int
}

// NewCSVWriter creates filename (and its directory) and writes the header row.
func NewCSVWriter(filename string, opts CSVOptions) (*CSVWriter, error) {
	f, err := createOutput(filename)
	if err != nil {
		return nil, err
	}

	w := &CSVWriter{file: f, csv: csv.NewWriter(f), tagSep: opts.TagSeparator}
	if w.tagSep == "" {
		w.tagSep = DefaultTagSeparator
	}
	if err := w.csv.Write(listingColumns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return w, nil
}

// Write appends listings. Absent optional fields become empty cells.
func (w *CSVWriter) Write(listings []*models.Listing) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, l := range listings {
		if err := w.csv.Write(w.record(l)); err != nil {
			return fmt.Errorf("write csv row for %s: %w", l.Identifier, err)
		}
		w.rows++
	}
	w.csv.Flush()
	return w.csv.Error()
}

func (w *CSVWriter) record(l *models.Listing) []string {
	return []string{
		l.Identifier,
		l.URL,
		stringCell(l.LicensePlate),
		intCell(l.ConstructionYear),
		intCell(l.Mileage),
		intCell(l.Price),
		stringCell(l.SellerName),
		stringCell(l.SellerIdentifier),
		strings.Join(l.Tags, w.tagSep),
	}
}

// Close flushes pending rows and closes the file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return w.file.Close()
}

// Validate fails when no listing row was written.
func (w *CSVWriter) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rows == 0 {
		return fmt.Errorf("csv %s has no listing rows", w.file.Name())
	}
	return nil
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
	records int
}

// NewJSONWriter creates filename (and its directory).
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := createOutput(filename)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &JSONWriter{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends listings as JSON lines.
func (w *JSONWriter) Write(listings []*models.Listing) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, l := range listings {
		if err := w.enc.Encode(l); err != nil {
			return fmt.Errorf("encode listing %s: %w", l.Identifier, err)
		}
		w.records++
	}
	return w.buf.Flush()
}

// Close flushes the buffer and closes the file.
func (w *JSONWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return w.file.Close()
}

// Validate fails when no listing was written.
func (w *JSONWriter) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.records == 0 {
		return fmt.Errorf("jsonl %s has no listings", w.file.Name())
	}
	return nil
}

func stringCell(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intCell(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func createOutput(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return f, nil
}

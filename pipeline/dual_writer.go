package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// MultiWriter sends every batch of listings to each of its writers in order.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter fans out to writers.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// NewDualWriter exports the same listings to a CSV file and a JSONL file.
func NewDualWriter(csvFilename, jsonFilename string, opts CSVOptions) (*MultiWriter, error) {
	csvOut, err := NewCSVWriter(csvFilename, opts)
	if err != nil {
		return nil, err
	}
	jsonOut, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvOut.Close()
		return nil, err
	}
	return NewMultiWriter(csvOut, jsonOut), nil
}

// Write stops at the first writer that fails.
func (m *MultiWriter) Write(listings []*models.Listing) error {
	for i, w := range m.writers {
		if err := w.Write(listings); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer, even after a failure.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Validate reports every writer that fails validation.
func (m *MultiWriter) Validate() error {
	var errs []error
	for _, w := range m.writers {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}

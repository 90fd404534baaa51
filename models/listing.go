// Package models defines data structures shared by the planner, the crawler and the stores.
package models

import (
	"strings"
	"time"
)

// FacetCount is one brand or model key and its known inventory size.
type FacetCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// BatchStatus tracks a batch through the queue.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
)

// Batch is one partitioned search query. An empty ModelKeys means every model of BrandKeys.
type Batch struct {
	ID        int64       `json:"id"`
	PlanID    string      `json:"plan_id"`
	BrandKeys []string    `json:"brand_keys"`
	ModelKeys []string    `json:"model_keys"`
	Expected  int         `json:"results_expected"`
	Found     int         `json:"results_found"`
	Status    BatchStatus `json:"status"`
}

// Processed reports whether the batch already went through a completed crawl.
func (b *Batch) Processed() bool {
	return b.Found > 0 || b.Status == BatchCompleted
}

const labelMax = 80

// Label is a short human readable description used in logs, at most 80 runes long.
func (b *Batch) Label() string {
	label := strings.Join(b.BrandKeys, "|")
	if len(b.ModelKeys) > 0 {
		label += " / " + strings.Join(b.ModelKeys, "|")
	}
	if runes := []rune(label); len(runes) > labelMax {
		label = string(runes[:labelMax-3]) + "..."
	}
	return label
}

// Listing is one vehicle listing card. Identifier is the only deduplication key.
type Listing struct {
	Identifier       string   `csv:"identifier" json:"identifier"`
	URL              string   `csv:"url" json:"url"`
	LicensePlate     *string  `csv:"license_plate" json:"license_plate,omitempty"`
	ConstructionYear *int     `csv:"construction_year" json:"construction_year,omitempty"`
	Mileage          *int     `csv:"mileage" json:"mileage,omitempty"`
	Price            *int     `csv:"price" json:"price,omitempty"`
	SellerName       *string  `csv:"seller_name" json:"seller_name,omitempty"`
	SellerIdentifier *string  `csv:"seller_identifier" json:"seller_identifier,omitempty"`
	Tags             []string `csv:"tags" json:"tags,omitempty"`
}

// BatchResult holds the outcome of one orchestrator run.
type BatchResult struct {
	BatchID         int64
	StartTime       time.Time
	EndTime         time.Time
	Skipped         bool
	PredictedPages  int
	EarlyTerminated bool
	SequentialStart int
	PagesFetched    int
	Processed       int
	New             int
	ErrorsByType    map[string]int
}

// RunSummary aggregates a driver pass over the queue.
type RunSummary struct {
	RunID     string
	Batches   int
	Completed int
	Skipped   int
	Failed    int
	Processed int
	New       int
	StartTime time.Time
	EndTime   time.Time
}

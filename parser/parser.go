// Package parser holds the field-level parsing and validation rules for listing cards.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-listings/models"
)

var (
	nonNumeric  = regexp.MustCompile(`[^\d.\s]`)
	yearPattern = regexp.MustCompile(`(\d{1,2}-)(\d{4})|(\d{4})`)
	dashSplit   = regexp.MustCompile(`\s*-\s*`)
)

// ValidateListing ensures the extractor captured the required fields.
func ValidateListing(l *models.Listing) error {
	if l == nil {
		return fmt.Errorf("listing is nil")
	}
	if strings.TrimSpace(l.Identifier) == "" {
		return fmt.Errorf("listing missing identifier")
	}
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("listing missing url for %s", l.Identifier)
	}
	return nil
}

// ParseNumber extracts an integer from text that uses dots as thousands separators.
// It returns nil when no digits are present.
func ParseNumber(text string) *int {
	cleaned := nonNumeric.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.Join(strings.Fields(cleaned), "")
	if cleaned == "" {
		return nil
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return nil
	}
	return &n
}

// ParseYear reads the year out of "MM-YYYY" or a bare "YYYY".
func ParseYear(text string) *int {
	match := yearPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	raw := match[2]
	if raw == "" {
		raw = match[3]
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &year
}

// SplitMileageBuild splits "12.345 km - 11-2020" into its mileage and build-date halves.
func SplitMileageBuild(text string) (mileage, build string) {
	parts := dashSplit.Split(strings.TrimSpace(text), 2)
	mileage = parts[0]
	if len(parts) > 1 {
		build = parts[1]
	}
	return mileage, build
}

// ParseCount parses a facet counter such as "(1.234)".
func ParseCount(text string) (int, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.NewReplacer("(", "", ")", "", ".", "").Replace(cleaned)
	if cleaned == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", text, err)
	}
	return n, nil
}

// NormalizeTags trims each tag and drops empty entries, keeping order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.Fields(tag), " ")
		if tag != "" {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeListing trims free-text fields in place.
func NormalizeListing(l *models.Listing) {
	l.Identifier = strings.TrimSpace(l.Identifier)
	l.URL = strings.TrimSpace(l.URL)
	l.SellerName = trimPtr(l.SellerName)
	l.SellerIdentifier = trimPtr(l.SellerIdentifier)
	l.LicensePlate = trimPtr(l.LicensePlate)
	l.Tags = NormalizeTags(l.Tags)
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

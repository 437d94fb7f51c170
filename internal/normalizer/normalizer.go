// Package normalizer projects catalog items into the canonical text that gets embedded.
package normalizer

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bartender/internal/domain"
	"bartender/internal/metrics"
)

const (
	missingVolume   = "N/A"
	missingCategory = "Unknown"
)

// Normalize builds the record for one item. The bool reports that a non-empty
// price could not be parsed and was replaced by 0.
func Normalize(item domain.CatalogItem) (domain.Record, bool) {
	price, ok := ParsePrice(string(item.Price))
	degraded := !ok && strings.TrimSpace(string(item.Price)) != ""

	category := stripSpaces(item.Category)
	if category == "" {
		category = missingCategory
	}
	volume := item.Volume
	if strings.TrimSpace(volume) == "" {
		volume = missingVolume
	}

	text := fmt.Sprintf("%s: %s, Price: %d INR, Volume: %s", category, item.Name, price, volume)
	return domain.Record{Text: text, Original: item}, degraded
}

// NormalizeAll normalizes items in order and logs every degraded price.
func NormalizeAll(items []domain.CatalogItem, logger *zap.Logger) []domain.Record {
	if logger == nil {
		logger = zap.NewNop()
	}
	records := make([]domain.Record, len(items))
	degraded := 0
	for i, item := range items {
		rec, bad := Normalize(item)
		if bad {
			degraded++
			metrics.NormalizeDegradedTotal.WithLabelValues("price").Inc()
			logger.Warn("Unparsable price defaulted to 0",
				zap.Int("position", i),
				zap.String("name", item.Name),
				zap.String("price", string(item.Price)),
			)
		}
		records[i] = rec
	}
	if degraded > 0 {
		logger.Info("Catalog normalized with degraded fields",
			zap.Int("items", len(items)),
			zap.Int("degraded_prices", degraded),
		)
	}
	return records
}

// ParsePrice strips thousands separators and whitespace, parses a decimal and
// truncates it to a non-negative integer. Failures, including values beyond
// int64, yield (0, false).
func ParsePrice(raw string) (int64, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	if d.IsNegative() {
		return 0, true
	}
	d = d.Truncate(0)
	if d.GreaterThan(maxPrice) {
		return 0, false
	}
	return d.IntPart(), true
}

var maxPrice = decimal.NewFromInt(math.MaxInt64)

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"bartender/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		item     domain.CatalogItem
		want     string
		degraded bool
	}{
		{
			name: "full item",
			item: domain.CatalogItem{Name: "Kingfisher Strong", Category: "Strong Beer", Price: "180", Volume: "650 ml"},
			want: "StrongBeer: Kingfisher Strong, Price: 180 INR, Volume: 650 ml",
		},
		{
			name: "thousands separator and fraction",
			item: domain.CatalogItem{Name: "Absolut", Category: "Vodka", Price: " 1,899.99 ", Volume: "750 ml"},
			want: "Vodka: Absolut, Price: 1899 INR, Volume: 750 ml",
		},
		{
			name:     "malformed price",
			item:     domain.CatalogItem{Name: "Mystery", Category: "Rum", Price: "abc", Volume: "180 ml"},
			want:     "Rum: Mystery, Price: 0 INR, Volume: 180 ml",
			degraded: true,
		},
		{
			name: "missing price and volume",
			item: domain.CatalogItem{Name: "Old Monk", Category: "Dark  Rum"},
			want: "DarkRum: Old Monk, Price: 0 INR, Volume: N/A",
		},
		{
			name: "missing category",
			item: domain.CatalogItem{Name: "House Pour", Price: "90"},
			want: "Unknown: House Pour, Price: 90 INR, Volume: N/A",
		},
		{
			name: "blank category",
			item: domain.CatalogItem{Name: "House Pour", Category: " \t ", Price: "90"},
			want: "Unknown: House Pour, Price: 90 INR, Volume: N/A",
		},
		{
			name:     "price beyond int64",
			item:     domain.CatalogItem{Name: "X", Category: "Beer", Price: "18446744073709551615"},
			want:     "Beer: X, Price: 0 INR, Volume: N/A",
			degraded: true,
		},
		{
			name:     "price in exponent form beyond int64",
			item:     domain.CatalogItem{Name: "X", Category: "Beer", Price: "1e30"},
			want:     "Beer: X, Price: 0 INR, Volume: N/A",
			degraded: true,
		},
		{
			name: "negative price clamps",
			item: domain.CatalogItem{Name: "Refund", Category: "Beer", Price: "-20"},
			want: "Beer: Refund, Price: 0 INR, Volume: N/A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, degraded := Normalize(tt.item)
			assert.Equal(t, tt.want, rec.Text)
			assert.Equal(t, tt.item, rec.Original)
			assert.Equal(t, tt.degraded, degraded)
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	item := domain.CatalogItem{Name: "Bira White", Category: "Wheat Beer", Price: "150.7"}
	a, _ := Normalize(item)
	b, _ := Normalize(item)
	assert.Equal(t, a, b)
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	items := []domain.CatalogItem{
		{Name: "A", Category: "Beer", Price: "100"},
		{Name: "B", Category: "Beer", Price: "oops"},
		{Name: "C", Category: "Beer", Price: "300"},
	}
	records := NormalizeAll(items, zap.NewNop())
	assert.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, items[i].Name, rec.Original.Name)
	}
	assert.Equal(t, "Beer: B, Price: 0 INR, Volume: N/A", records[1].Text)
}

func TestParsePrice(t *testing.T) {
	cases := map[string]int64{
		"250":                   250,
		"2,500":                 2500,
		"99.99":                 99,
		"  42  ":                42,
		"1,00,000":              100000,
		"9223372036854775807":   9223372036854775807,
		"9223372036854775807.9": 9223372036854775807,
	}
	for in, want := range cases {
		got, ok := ParsePrice(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	rejected := []string{
		"", "abc", "12abc", "₹200",
		"9223372036854775808", "18446744073709551615", "99999999999999999999", "1e30",
	}
	for _, in := range rejected {
		got, ok := ParsePrice(in)
		assert.False(t, ok, in)
		assert.Zero(t, got, in)
	}
}

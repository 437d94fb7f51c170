// Package query extracts budget and headcount hints from free-text questions.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"bartender/internal/domain"
)

var (
	// Only "<n>k" is a budget; "5000" or "5 grand" are deliberately not recognized.
	budgetRe      = regexp.MustCompile(`(\d+)\s*k`)
	peopleRangeRe = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
	peopleForRe   = regexp.MustCompile(`for\s+(\d+)\s+people`)
)

// Parse extracts constraints from q. It never fails; missing hints stay nil.
func Parse(q string) domain.Constraints {
	lower := strings.ToLower(q)
	var c domain.Constraints

	if m := budgetRe.FindStringSubmatch(lower); m != nil {
		if n, ok := atoi(m[1]); ok && n <= maxInt/1000 {
			c.Budget = ptr(n * 1000)
		}
	}

	if m := peopleRangeRe.FindStringSubmatch(lower); m != nil {
		a, okA := atoi(m[1])
		b, okB := atoi(m[2])
		if okA && okB && a <= maxInt-b {
			c.People = ptr((a + b) / 2)
		}
	} else if m := peopleForRe.FindStringSubmatch(lower); m != nil {
		if n, ok := atoi(m[1]); ok {
			c.People = ptr(n)
		}
	}
	return c
}

const maxInt = int(^uint(0) >> 1)

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func ptr(n int) *int { return &n }

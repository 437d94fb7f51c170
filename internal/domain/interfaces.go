package domain

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogItem is a single sellable product as listed in the catalog.
type CatalogItem struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
	Price    Price  `json:"price" yaml:"price"`
	Volume   string `json:"volume,omitempty" yaml:"volume,omitempty"`
	// Section is the catalog list the item was published under (beers, vodka, ...).
	Section string `json:"section,omitempty" yaml:"-"`
}

// Price keeps the raw catalog price, which may be written as a string or a number.
type Price string

// UnmarshalJSON accepts both `"1,250"` and `1250`.
func (p *Price) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	*p = Price(raw)
	return nil
}

// MarshalJSON always writes the raw text as a JSON string.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

// UnmarshalYAML accepts any scalar node.
func (p *Price) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		*p = ""
		return nil
	}
	if node.Tag == "!!null" {
		*p = ""
		return nil
	}
	*p = Price(node.Value)
	return nil
}

// Record is the normalized, embeddable projection of a catalog item.
type Record struct {
	Text     string      `json:"text"`
	Original CatalogItem `json:"original_item"`
}

// Hit is a record matched by a vector search.
type Hit struct {
	Position int     `json:"position"`
	Distance float32 `json:"distance"`
	Record   Record  `json:"record"`
}

// Constraints are the budget and headcount hints extracted from a query.
// A nil field means the query did not mention it.
type Constraints struct {
	Budget *int `json:"budget,omitempty"`
	People *int `json:"people,omitempty"`
}

func (c Constraints) String() string {
	parts := make([]string, 0, 2)
	if c.Budget != nil {
		parts = append(parts, "budget="+strconv.Itoa(*c.Budget))
	}
	if c.People != nil {
		parts = append(parts, "people="+strconv.Itoa(*c.People))
	}
	if len(parts) == 0 {
		return "unconstrained"
	}
	return strings.Join(parts, " ")
}

// Retrieval is the grounding material assembled for one query.
type Retrieval struct {
	Query       string      `json:"query"`
	Context     string      `json:"context"`
	Constraints Constraints `json:"constraints"`
	Hits        []Hit       `json:"hits"`
}

// Reply is a retrieval plus the generated recommendation text.
// Degraded is set when the generator failed and Text carries the failure message.
type Reply struct {
	Retrieval
	Text     string `json:"response"`
	Degraded bool   `json:"degraded"`
}

// Generator drafts text from a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

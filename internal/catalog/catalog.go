// Package catalog loads the product catalog and computes its content fingerprint.
package catalog

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"bartender/internal/domain"
)

// Section is a named list of items, e.g. "beers" or "whisky".
type Section struct {
	Name  string               `json:"name" yaml:"name"`
	Items []domain.CatalogItem `json:"items" yaml:"items"`
}

// Catalog is the ordered set of sellable items. Order defines index positions.
type Catalog struct {
	Sections []Section `json:"sections" yaml:"sections"`
}

// Load reads a YAML or JSON catalog. Both a {sections: [...]} document and a bare
// item list are accepted; the latter becomes a single unnamed section.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes catalog bytes. YAML is a superset of JSON, so isJSON only selects
// the stricter decoder.
func Parse(data []byte, isJSON bool) (*Catalog, error) {
	unmarshal := yaml.Unmarshal
	if isJSON {
		unmarshal = json.Unmarshal
	}

	var cat Catalog
	if err := unmarshal(data, &cat); err != nil || len(cat.Sections) == 0 {
		var items []domain.CatalogItem
		if listErr := unmarshal(data, &items); listErr != nil {
			if err != nil {
				return nil, err
			}
			return nil, listErr
		}
		cat = Catalog{Sections: []Section{{Items: items}}}
	}
	for i := range cat.Sections {
		name := strings.ToLower(strings.TrimSpace(cat.Sections[i].Name))
		cat.Sections[i].Name = name
		for j := range cat.Sections[i].Items {
			cat.Sections[i].Items[j].Section = name
		}
	}
	if len(cat.Items()) == 0 {
		return nil, domain.ErrEmptyCatalog
	}
	return &cat, nil
}

// Items returns every item in catalog order.
func (c *Catalog) Items() []domain.CatalogItem {
	var out []domain.CatalogItem
	for _, s := range c.Sections {
		out = append(out, s.Items...)
	}
	return out
}

// Section returns the items of a named section.
func (c *Catalog) Section(name string) ([]domain.CatalogItem, bool) {
	name = strings.ToLower(name)
	for _, s := range c.Sections {
		if s.Name == name {
			return s.Items, true
		}
	}
	return nil, false
}

// SectionNames lists the named sections in order.
func (c *Catalog) SectionNames() []string {
	names := make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names
}

// Fingerprint hashes the ordered items together with the embedder identity.
// Any change to either yields a different value.
func Fingerprint(items []domain.CatalogItem, embedder string) [32]byte {
	h := sha256.New()
	fmt.Fprintf(h, "embedder=%q\n", embedder)
	for _, it := range items {
		fmt.Fprintf(h, "%q\x1f%q\x1f%q\x1f%q\x1f%q\n", it.Section, it.Name, it.Category, string(it.Price), it.Volume)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

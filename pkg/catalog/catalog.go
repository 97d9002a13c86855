package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

type Category struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

type Product struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Price       float64  `yaml:"price"`
	Currency    string   `yaml:"currency"`
	ImageURL    string   `yaml:"image_url"`
	Tags        []string `yaml:"tags"`
	Featured    bool     `yaml:"featured"`
	InStock     bool     `yaml:"in_stock"`
}

// PriceLabel formats the price for display
func (p Product) PriceLabel() string {
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%s %.2f", currency, p.Price)
}

type FAQEntry struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// Catalog is the read-only product and FAQ lookup used by conversation flows
type Catalog interface {
	Categories() []Category
	ProductsByCategory(category string) []Product
	Search(query string) []Product
	Product(id string) (Product, bool)
	Recommendations(limit int) []Product
	FAQ() []FAQEntry
}

type file struct {
	Categories []Category `yaml:"categories"`
	Products   []Product  `yaml:"products"`
	FAQ        []FAQEntry `yaml:"faq"`
}

// Static is an immutable in-memory catalog
type Static struct {
	categories []Category
	products   []Product
	byID       map[string]Product
	terms      map[string]map[string]int // product id -> stemmed term -> weight
	faq        []FAQEntry
}

// Default returns the built-in catalog
func Default() *Static {
	s, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return s
}

// LoadFile reads a YAML catalog from path
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Categories, f.Products, f.FAQ)
}

// New validates and indexes a catalog
func New(categories []Category, products []Product, faq []FAQEntry) (*Static, error) {
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category without name")
		}
		known[c.Name] = struct{}{}
	}

	s := &Static{
		categories: categories,
		products:   products,
		byID:       make(map[string]Product, len(products)),
		terms:      make(map[string]map[string]int, len(products)),
		faq:        faq,
	}
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product %q without id", p.Name)
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}
		if _, ok := known[p.Category]; !ok {
			return nil, fmt.Errorf("product %q references unknown category %q", p.ID, p.Category)
		}
		s.byID[p.ID] = p
		s.terms[p.ID] = indexTerms(p)
	}
	return s, nil
}

func indexTerms(p Product) map[string]int {
	terms := make(map[string]int)
	add := func(text string, weight int) {
		for _, t := range stems(text) {
			if terms[t] < weight {
				terms[t] = weight
			}
		}
	}
	add(p.Description, 1)
	add(p.Category, 2)
	add(strings.Join(p.Tags, " "), 2)
	add(p.Name, 3)
	return terms
}

func stems(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		out = append(out, english.Stem(w, false))
	}
	return out
}

func (s *Static) Categories() []Category {
	return append([]Category(nil), s.categories...)
}

func (s *Static) ProductsByCategory(category string) []Product {
	var out []Product
	for _, p := range s.products {
		if strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// Search ranks products by weighted term overlap with query. Out-of-stock
// products rank below in-stock ones with the same score.
func (s *Static) Search(query string) []Product {
	q := stems(query)
	if len(q) == 0 {
		return nil
	}

	type hit struct {
		product Product
		score   int
	}
	var hits []hit
	for _, p := range s.products {
		score := 0
		for _, t := range q {
			score += s.terms[p.ID][t]
		}
		if score > 0 {
			hits = append(hits, hit{product: p, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].product.InStock != hits[j].product.InStock {
			return hits[i].product.InStock
		}
		return hits[i].product.ID < hits[j].product.ID
	})

	out := make([]Product, len(hits))
	for i, h := range hits {
		out[i] = h.product
	}
	return out
}

func (s *Static) Product(id string) (Product, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Recommendations returns featured in-stock products first, then other in-stock ones
func (s *Static) Recommendations(limit int) []Product {
	var featured, rest []Product
	for _, p := range s.products {
		if !p.InStock {
			continue
		}
		if p.Featured {
			featured = append(featured, p)
		} else {
			rest = append(rest, p)
		}
	}
	out := append(featured, rest...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Static) FAQ() []FAQEntry {
	return append([]FAQEntry(nil), s.faq...)
}

package catalog

import (
	"context"
	"strings"
)

// Category groups machines shown together in the category menu.
type Category struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ProductRef identifies a machine and carries the text shown to buyers.
type ProductRef struct {
	ID          string   `json:"id"`
	CategoryID  string   `json:"category_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Highlights  []string `json:"highlights,omitempty"`
}

// Lookup is the read-only catalog consumed by the conversation engine.
// Empty results are not errors; callers decide how to present them.
type Lookup interface {
	Categories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context, categoryID string, limit int) ([]ProductRef, error)
	ProductName(ctx context.Context, productID string) (string, bool, error)
	Product(ctx context.Context, productID string) (ProductRef, bool, error)
}

// DetailText renders the descriptive text resent when a buyer asks for more info.
func (p ProductRef) DetailText() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if d := strings.TrimSpace(p.Description); d != "" {
		b.WriteString("\n\n")
		b.WriteString(d)
	}
	for _, h := range p.Highlights {
		if h = strings.TrimSpace(h); h != "" {
			b.WriteString("\n• ")
			b.WriteString(h)
		}
	}
	return b.String()
}

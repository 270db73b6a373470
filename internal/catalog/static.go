package catalog

import "context"

// StaticLookup serves a fixed catalog from memory. It is read-only after
// construction and safe for concurrent use.
type StaticLookup struct {
	categories []Category
	products   []ProductRef
	byID       map[string]ProductRef
}

// NewStaticLookup builds a lookup over the given categories and products.
// Order is preserved in listings.
func NewStaticLookup(categories []Category, products []ProductRef) *StaticLookup {
	l := &StaticLookup{
		categories: append([]Category(nil), categories...),
		products:   append([]ProductRef(nil), products...),
		byID:       make(map[string]ProductRef, len(products)),
	}
	for _, p := range products {
		l.byID[p.ID] = p
	}
	return l
}

// DefaultLookup returns the seeded machinery catalog.
func DefaultLookup() *StaticLookup {
	return NewStaticLookup(seedCategories, seedProducts)
}

var _ Lookup = (*StaticLookup)(nil)

func (l *StaticLookup) Categories(_ context.Context) ([]Category, error) {
	return append([]Category(nil), l.categories...), nil
}

func (l *StaticLookup) ListProducts(_ context.Context, categoryID string, limit int) ([]ProductRef, error) {
	var out []ProductRef
	for _, p := range l.products {
		if p.CategoryID != categoryID {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *StaticLookup) ProductName(ctx context.Context, productID string) (string, bool, error) {
	p, ok, err := l.Product(ctx, productID)
	if err != nil || !ok {
		return "", false, err
	}
	return p.Name, true, nil
}

func (l *StaticLookup) Product(_ context.Context, productID string) (ProductRef, bool, error) {
	p, ok := l.byID[productID]
	return p, ok, nil
}

var seedCategories = []Category{
	{ID: "cat_mixing", Title: "Mixing & Granulation", Description: "Wet and dry mixing, granulating"},
	{ID: "cat_drying", Title: "Drying", Description: "Fluid bed and tray dryers"},
	{ID: "cat_tableting", Title: "Tableting", Description: "Tablet presses and tooling"},
	{ID: "cat_coating", Title: "Coating", Description: "Tablet and pellet coaters"},
}

var seedProducts = []ProductRef{
	{
		ID:          "machine_rmg",
		CategoryID:  "cat_mixing",
		Name:        "Rapid Mixer Granulator (RMG)",
		Description: "High-shear mixer granulator for uniform wet granulation of pharmaceutical powders.",
		Highlights:  []string{"Working capacity 10 to 1200 L", "cGMP contact parts in SS316L", "PLC recipe control"},
	},
	{
		ID:          "machine_ribbon_blender",
		CategoryID:  "cat_mixing",
		Name:        "Ribbon Blender",
		Description: "Horizontal ribbon blender for gentle dry powder blending.",
		Highlights:  []string{"Double helical ribbon", "Bottom discharge valve"},
	},
	{
		ID:          "machine_octagonal_blender",
		CategoryID:  "cat_mixing",
		Name:        "Octagonal Blender",
		Description: "Tumble blender for lubrication and final blending of granules.",
		Highlights:  []string{"Low shear tumbling action", "Vacuum charging option"},
	},
	{
		ID:          "machine_fbd",
		CategoryID:  "cat_drying",
		Name:        "Fluid Bed Dryer (FBD)",
		Description: "Fluidized bed dryer for fast, even drying of wet granules.",
		Highlights:  []string{"Steam or electric heating", "Explosion vent option"},
	},
	{
		ID:          "machine_tray_dryer",
		CategoryID:  "cat_drying",
		Name:        "Tray Dryer",
		Description: "Hot-air circulation tray dryer for batch drying.",
		Highlights:  []string{"24 to 192 tray models"},
	},
	{
		ID:          "machine_rotary_press",
		CategoryID:  "cat_tableting",
		Name:        "Rotary Tablet Press",
		Description: "Double-sided rotary press for high output tablet compression.",
		Highlights:  []string{"Up to 45 stations", "Force feeder", "Tablet rejection system"},
	},
	{
		ID:          "machine_auto_coater",
		CategoryID:  "cat_coating",
		Name:        "Auto Coater",
		Description: "Perforated pan coater for film and sugar coating.",
		Highlights:  []string{"Spray gun assembly with peristaltic pump"},
	},
}

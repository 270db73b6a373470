package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLookup(t *testing.T) {
	ctx := context.Background()
	lookup := DefaultLookup()

	categories, err := lookup.Categories(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, categories)
	assert.Equal(t, "cat_mixing", categories[0].ID)

	products, err := lookup.ListProducts(ctx, "cat_mixing", 2)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "machine_rmg", products[0].ID)

	name, ok, err := lookup.ProductName(ctx, "machine_rmg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Rapid Mixer Granulator (RMG)", name)

	_, ok, err = lookup.ProductName(ctx, "machine_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	empty, err := lookup.ListProducts(ctx, "cat_unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticLookupCategoriesAreCopies(t *testing.T) {
	lookup := DefaultLookup()
	first, _ := lookup.Categories(context.Background())
	first[0].Title = "changed"
	second, _ := lookup.Categories(context.Background())
	assert.NotEqual(t, "changed", second[0].Title)
}

func TestProductDetailText(t *testing.T) {
	p := ProductRef{Name: "Tray Dryer", Description: "Batch drying.", Highlights: []string{"24 trays", " "}}
	assert.Equal(t, "Tray Dryer\n\nBatch drying.\n• 24 trays", p.DetailText())
	assert.Equal(t, "Bare", ProductRef{Name: "Bare"}.DetailText())
}

func TestSQLLookup_Categories(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "title", "description"}).
		AddRow("cat_mixing", "Mixing & Granulation", "").
		AddRow("cat_drying", "Drying", "Dryers")
	mock.ExpectQuery("SELECT id, title, description\\s+FROM catalog_categories").WillReturnRows(rows)

	categories, err := NewSQLLookup(db).Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "cat_drying", categories[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLookup_ListProducts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "category_id", "name", "description", "highlights"}).
		AddRow("machine_rmg", "cat_mixing", "Rapid Mixer Granulator (RMG)", "High shear", `{"PLC recipe control","SS316L"}`)
	mock.ExpectQuery("FROM catalog_products").WithArgs("cat_mixing", 10).WillReturnRows(rows)

	products, err := NewSQLLookup(db).ListProducts(context.Background(), "cat_mixing", 0)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, []string{"PLC recipe control", "SS316L"}, products[0].Highlights)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLookup_ProductNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM catalog_products").WithArgs("machine_gone").WillReturnError(sql.ErrNoRows)

	name, ok, err := NewSQLLookup(db).ProductName(context.Background(), "machine_gone")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLookup_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM catalog_products").WillReturnError(errors.New("connection reset"))

	_, err = NewSQLLookup(db).ListProducts(context.Background(), "cat_mixing", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: list products")
}

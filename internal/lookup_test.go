package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLookupTablesDedupAndDefaults(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "PROD100", 1),
		rec("2024-07-09", "C1", "F1", "PROD100", 1),
		rec("2024-07-10", "C2", "F2", "PROD200", 1),
	}
	records[0].ProductName = "Widget"
	records[0].CategoryName = "Hardware"
	// PROD200 carries no metadata, so defaults apply.

	catalog, rels := BuildLookupTables(records, ColumnSet{})

	require.Len(t, catalog, 2)
	assert.Equal(t, ProductLookupEntry{
		ProductID:    "PROD100",
		ProductName:  "Widget",
		CategoryName: "Hardware",
		VendorName:   "Vendor100",
	}, catalog[0])
	assert.Equal(t, ProductLookupEntry{
		ProductID:    "PROD200",
		ProductName:  "Product PROD200",
		CategoryName: "General",
		VendorName:   "Vendor200",
	}, catalog[1])

	require.Len(t, rels, 2)
	assert.Equal(t, "C1", rels[0].CustomerID)
	assert.Equal(t, 2, rels[0].OrderCount)
	assert.Equal(t, "2024-07-08", rels[0].FirstOrder)
	assert.Equal(t, "2024-07-09", rels[0].LastOrder)
	assert.Equal(t, "Widget", rels[0].ProductName)
}

func TestBuildLookupTablesFirstSeenWinsWithBlankFill(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 1),
		rec("2024-07-09", "C1", "F1", "P1", 1),
	}
	records[0].ProductName = "First Name"
	records[1].ProductName = "Second Name"
	records[1].VendorName = "LateVendor"

	catalog, _ := BuildLookupTables(records, ColumnSet{})
	require.Len(t, catalog, 1)
	assert.Equal(t, "First Name", catalog[0].ProductName, "first-seen name wins")
	assert.Equal(t, "LateVendor", catalog[0].VendorName, "blanks fill from later rows")
}

func TestBuildLookupTablesSkipsEmptyProductIDs(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 1),
		{CustomerID: "C1", FacilityID: "F1"},
	}
	catalog, rels := BuildLookupTables(records, ColumnSet{})
	assert.Len(t, catalog, 1)
	assert.Len(t, rels, 1)
}

func TestRelationshipsSortedByCustomerFacilityProduct(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C2", "F1", "P1", 1),
		rec("2024-07-08", "C1", "F2", "P2", 1),
		rec("2024-07-08", "C1", "F1", "P9", 1),
		rec("2024-07-08", "C1", "F1", "P2", 1),
	}
	_, rels := BuildLookupTables(records, ColumnSet{})
	require.Len(t, rels, 4)

	var keys [][3]string
	for _, r := range rels {
		keys = append(keys, [3]string{r.CustomerID, r.FacilityID, r.ProductID})
	}
	assert.Equal(t, [][3]string{
		{"C1", "F1", "P2"},
		{"C1", "F1", "P9"},
		{"C1", "F2", "P2"},
		{"C2", "F1", "P1"},
	}, keys)
}

func TestLookupCSVRoundTrip(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "PROD100", 1),
		rec("2024-07-10", "C2", "F2", "PROD200", 1),
	}
	catalog, rels := BuildLookupTables(records, ColumnSet{})

	catalogCSV, err := EncodeProductLookupCSV(catalog)
	require.NoError(t, err)
	gotCatalog, err := DecodeProductLookupCSV(catalogCSV)
	require.NoError(t, err)
	assert.Equal(t, catalog, gotCatalog)

	relCSV, err := EncodeRelationshipsCSV(rels)
	require.NoError(t, err)
	gotRels, err := DecodeRelationshipsCSV(relCSV)
	require.NoError(t, err)
	assert.Equal(t, rels, gotRels)
}

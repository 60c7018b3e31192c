package internal

import "sort"

// ProductLookupEntry is one row of the deduplicated product catalog.
type ProductLookupEntry struct {
	ProductID    string
	ProductName  string
	CategoryName string
	VendorName   string
}

// CustomerProductRelationship is one row of the customer-facility-product
// relationship table, denormalized with product metadata via a left join
// on ProductID.
type CustomerProductRelationship struct {
	ProductID    string
	ProductName  string
	CategoryName string
	VendorName   string
	CustomerID   string
	FacilityID   string
	OrderCount   int
	FirstOrder   string
	LastOrder    string
}

// BuildLookupTables derives the product catalog and the customer-product
// relationship table from a normalized batch. Missing optional columns
// are synthesized with deterministic defaults so downstream consumers
// always see a complete schema.
func BuildLookupTables(records []OrderRecord, cols ColumnSet) ([]ProductLookupEntry, []CustomerProductRelationship) {
	products := make(map[string]ProductLookupEntry)
	var productOrder []string
	for _, r := range records {
		if r.ProductID == "" {
			continue
		}
		if existing, ok := products[r.ProductID]; ok {
			// First-seen metadata wins; fill blanks from later rows.
			if existing.ProductName == "" && r.ProductName != "" {
				existing.ProductName = r.ProductName
			}
			if existing.CategoryName == "" && r.CategoryName != "" {
				existing.CategoryName = r.CategoryName
			}
			if existing.VendorName == "" && r.VendorName != "" {
				existing.VendorName = r.VendorName
			}
			products[r.ProductID] = existing
			continue
		}
		productOrder = append(productOrder, r.ProductID)
		products[r.ProductID] = ProductLookupEntry{
			ProductID:    r.ProductID,
			ProductName:  r.ProductName,
			CategoryName: r.CategoryName,
			VendorName:   r.VendorName,
		}
	}

	catalog := make([]ProductLookupEntry, 0, len(productOrder))
	for _, id := range productOrder {
		e := products[id]
		if e.ProductName == "" {
			e.ProductName = DefaultProductName(id)
		}
		if e.CategoryName == "" {
			e.CategoryName = DefaultCategoryName
		}
		if e.VendorName == "" {
			e.VendorName = DefaultVendorName(id)
		}
		products[id] = e
		catalog = append(catalog, e)
	}

	type relKey struct{ customer, facility, product string }
	type relAcc struct {
		count       int
		first, last string
	}
	rels := make(map[relKey]*relAcc)
	var relOrder []relKey
	for _, r := range records {
		if r.ProductID == "" {
			continue
		}
		key := relKey{r.CustomerID, r.FacilityID, r.ProductID}
		a, ok := rels[key]
		if !ok {
			a = &relAcc{}
			rels[key] = a
			relOrder = append(relOrder, key)
		}
		a.count++
		if r.HasDate {
			day := r.OrderDate.Format(dateKeyFormat)
			if a.first == "" || day < a.first {
				a.first = day
			}
			if day > a.last {
				a.last = day
			}
		}
	}

	relationships := make([]CustomerProductRelationship, 0, len(relOrder))
	for _, key := range relOrder {
		a := rels[key]
		rel := CustomerProductRelationship{
			ProductID:  key.product,
			CustomerID: key.customer,
			FacilityID: key.facility,
			OrderCount: a.count,
			FirstOrder: a.first,
			LastOrder:  a.last,
		}
		// Left join: a relationship row keeps defaults even if its
		// product never made it into the catalog.
		if e, ok := products[key.product]; ok {
			rel.ProductName = e.ProductName
			rel.CategoryName = e.CategoryName
			rel.VendorName = e.VendorName
		} else {
			rel.ProductName = DefaultProductName(key.product)
			rel.CategoryName = DefaultCategoryName
			rel.VendorName = DefaultVendorName(key.product)
		}
		relationships = append(relationships, rel)
	}

	sort.Slice(relationships, func(i, j int) bool {
		a, b := relationships[i], relationships[j]
		if a.CustomerID != b.CustomerID {
			return a.CustomerID < b.CustomerID
		}
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		return a.ProductID < b.ProductID
	})
	return catalog, relationships
}

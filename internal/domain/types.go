package domain

import "strings"

// ProductStatus represents the lifecycle status of a catalog product
type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "active"
	ProductStatusInactive     ProductStatus = "inactive"
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

// String returns the status name
func (s ProductStatus) String() string {
	return string(s)
}

// Valid reports whether the status is one of the known values
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDiscontinued:
		return true
	}
	return false
}

// ParseProductStatus parses a raw CSV status value. Unknown values fall back
// to active so that sloppy supplier data does not hide products.
func ParseProductStatus(raw string) ProductStatus {
	s := ProductStatus(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return ProductStatusActive
}

// AssetKind distinguishes the two classes of remote assets an import row may reference
type AssetKind string

const (
	AssetKindImage    AssetKind = "image"
	AssetKindDocument AssetKind = "document"
)

// AssetRole describes how a materialized asset is attached to a product
type AssetRole string

const (
	AssetRolePrimary  AssetRole = "primary"
	AssetRoleGallery  AssetRole = "gallery"
	AssetRoleBrochure AssetRole = "brochure"
)

// ConflictPolicy controls what an import run does when a row's external
// reference already exists in the store.
type ConflictPolicy string

const (
	// ConflictSkip leaves the existing record untouched (base importer behavior)
	ConflictSkip ConflictPolicy = "skip"
	// ConflictOverwrite replaces the record's translations and media
	ConflictOverwrite ConflictPolicy = "overwrite"
	// ConflictMerge fills missing translations and appends missing media
	ConflictMerge ConflictPolicy = "merge"
)

// Valid reports whether the policy is one of the known values
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictSkip, ConflictOverwrite, ConflictMerge:
		return true
	}
	return false
}

// Languages supported by the catalog. Translation columns are recognized
// per-language by suffix (e.g. name_en, description_fr).
var Languages = []string{"en", "fr", "de", "es", "it"}

// ParseBool parses the CSV truthy convention: "true" and "1" are true,
// anything else is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1":
		return true
	}
	return false
}

package domain

import "errors"

var (
	// ErrDuplicateReference is returned when a product with the same external reference already exists
	ErrDuplicateReference = errors.New("external reference already exists")

	// ErrProductNotFound is returned when a product is not found
	ErrProductNotFound = errors.New("product not found")

	// ErrJobNotFound is returned when an import job is not found
	ErrJobNotFound = errors.New("import job not found")
)

package plan

import "errors"

var (
	ErrUnknownTier     = errors.New("unknown plan tier")
	ErrInvalidCatalog  = errors.New("invalid plan catalog")
	ErrCatalogNotFound = errors.New("plan catalog file not found")
)

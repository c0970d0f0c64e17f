package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a query run identifier.
// ULIDs sort lexicographically by creation time, which keeps the store's
// listing index cheap.
func NewID() string {
	return ulid.Make().String()
}

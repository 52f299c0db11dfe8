package model

import "github.com/gofrs/uuid/v5"

// Caller is the authenticated principal of an admin API request.
type Caller struct {
	ID    uuid.UUID
	Admin bool
}

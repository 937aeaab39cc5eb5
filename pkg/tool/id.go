package tool

import "github.com/google/uuid"

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewClaimToken identifies one sweep worker's lease on a row.
func NewClaimToken() string {
	return uuid.NewString()
}

package repositories

import (
	"errors"
	"fmt"

	"github.com/upb/kafka-control-plane/models"
)

// ErrNotFound is returned when a lookup by key matches no row
var ErrNotFound = errors.New("record not found")

// StatusConflictError is returned when a guarded transition finds the row in
// a status outside the allowed set
type StatusConflictError struct {
	Current models.RequestStatus
	Allowed []models.RequestStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("status is %s, expected one of %v", e.Current, e.Allowed)
}

package domain

import "errors"

var (
	// ErrReservationNotFound is returned when a reservation id does not exist.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrOrderNotFound is returned when no order matches the lookup.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidDateRange is returned for missing or reversed date ranges.
	ErrInvalidDateRange = errors.New("dateEnd must not be before dateStart")
	// ErrProductRequired is returned when a reservation has no product reference.
	ErrProductRequired = errors.New("productId is required")
)

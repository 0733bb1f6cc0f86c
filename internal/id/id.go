package id

import "github.com/google/uuid"

// UUID returns a version 7 UUID. It falls back to version 4 if the clock
// source fails.
func UUID() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// Random returns a version 4 UUID.
func Random() string {
	return uuid.NewString()
}

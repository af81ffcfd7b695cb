// Package utils provides shared utility functions used across the application.
//
// Go Learning Note — "pkg/" Directory Convention:
// Code under pkg/ is intended to be importable by external projects (unlike
// internal/ which is compiler-enforced private). This is a community convention,
// not a Go language feature. Use pkg/ when you want to clearly signal "these
// packages are part of the public API."
package utils

import (
	"github.com/google/uuid"
)

// GenerateID creates a new time-ordered UUID (version 7) string for use as an
// entity identifier. Raw readings are inserted at a high rate, so IDs that sort
// by creation time keep B-tree indexes in the SQL store append-mostly.
//
// Go Learning Note — "github.com/google/uuid":
// uuid.NewV7 embeds a millisecond timestamp followed by random bits. It can
// only fail if the system's random source fails, in which case we fall back
// to a fully random version 4 UUID via uuid.New (which panics on the same
// failure, so the fallback only changes the format, never the guarantee).
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValidID reports whether s parses as a UUID.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

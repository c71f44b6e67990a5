// Package model defines the core domain types shared across the application.
package model

// ParticipantID identifies a member of a shared-expense group.
//
// Balances, splits, and baselines are all keyed by ParticipantID; using a
// named type keeps those maps from silently mixing with other string keys.
type ParticipantID string

// Category is the spending category a transaction belongs to.
type Category string

// String returns the participant id as a plain string.
func (p ParticipantID) String() string { return string(p) }

// String returns the category as a plain string.
func (c Category) String() string { return string(c) }

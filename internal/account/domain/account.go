package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrAccountAlreadyExists is returned when a create-if-absent finds an existing row.
	ErrAccountAlreadyExists = errors.New("account already exists")
	// ErrInvalidRegistrationDetails is returned by RegistrationDetails.Validate.
	ErrInvalidRegistrationDetails = errors.New("invalid registration details")
)

const maxNameLength = 120

// Account is a vendor identity keyed by phone number.
type Account struct {
	ID         string
	Phone      string
	Verified   bool
	ProfileRef string // opaque reference owned by the profile store
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Action is what a start request leads to.
type Action string

const (
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
)

// Resolution is the read-only view returned by Resolve.
type Resolution struct {
	Exists   bool
	Verified bool
}

// RegistrationDetails are the profile fields collected for a new vendor.
type RegistrationDetails struct {
	BusinessName string `json:"business_name"`
	OwnerName    string `json:"owner_name"`
}

// Validate trims both names and requires them to be non-empty and at most 120 characters.
func (d *RegistrationDetails) Validate() error {
	d.BusinessName = strings.TrimSpace(d.BusinessName)
	d.OwnerName = strings.TrimSpace(d.OwnerName)
	if d.BusinessName == "" || d.OwnerName == "" {
		return ErrInvalidRegistrationDetails
	}
	if utf8.RuneCountInString(d.BusinessName) > maxNameLength || utf8.RuneCountInString(d.OwnerName) > maxNameLength {
		return ErrInvalidRegistrationDetails
	}
	return nil
}

package patient

import (
	"regexp"
	"time"
)

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CreateRequest is the inbound payload for registering a patient. Dates
// arrive as "YYYY-MM-DD" strings; registeredDate defaults to the current
// date when omitted.
type CreateRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Address        string `json:"address"`
	DateOfBirth    string `json:"dateOfBirth"`
	RegisteredDate string `json:"registeredDate"`
}

// Validate checks input shape before any side effect runs and returns the
// parsed dates on success.
func (r CreateRequest) Validate(now time.Time) (dob, registered Date, _ error) {
	var violations []FieldViolation

	if r.Name == "" {
		violations = append(violations, FieldViolation{Field: "name", Message: "is required"})
	}
	violations = append(violations, validateEmail(r.Email)...)
	if r.Address == "" {
		violations = append(violations, FieldViolation{Field: "address", Message: "is required"})
	}

	switch {
	case r.DateOfBirth == "":
		violations = append(violations, FieldViolation{Field: "dateOfBirth", Message: "is required"})
	default:
		d, err := ParseDate(r.DateOfBirth)
		if err != nil {
			violations = append(violations, FieldViolation{Field: "dateOfBirth", Message: "must be a date in YYYY-MM-DD format"})
		} else if !d.Before(now) {
			violations = append(violations, FieldViolation{Field: "dateOfBirth", Message: "must be in the past"})
		} else {
			dob = d
		}
	}

	if r.RegisteredDate == "" {
		registered = DateOf(now)
	} else {
		d, err := ParseDate(r.RegisteredDate)
		if err != nil {
			violations = append(violations, FieldViolation{Field: "registeredDate", Message: "must be a date in YYYY-MM-DD format"})
		} else {
			registered = d
		}
	}

	if len(violations) > 0 {
		return Date{}, Date{}, &ValidationError{Violations: violations}
	}
	return dob, registered, nil
}

// UpdateRequest carries the mutable fields of a record. Dates are fixed at
// creation and excluded here.
type UpdateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

func (r UpdateRequest) Validate() error {
	var violations []FieldViolation

	if r.Name == "" {
		violations = append(violations, FieldViolation{Field: "name", Message: "is required"})
	}
	violations = append(violations, validateEmail(r.Email)...)
	if r.Address == "" {
		violations = append(violations, FieldViolation{Field: "address", Message: "is required"})
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func validateEmail(email string) []FieldViolation {
	if email == "" {
		return []FieldViolation{{Field: "email", Message: "is required"}}
	}
	if !emailRx.MatchString(email) {
		return []FieldViolation{{Field: "email", Message: "must be a valid email address"}}
	}
	return nil
}

package validation

import (
	"net/mail"
	"strings"
)

// Rule names reported in FieldError.Rule.
const (
	RuleRequired = "required"
	RuleFormat   = "format"
	RuleRange    = "range"
	RuleLength   = "length"
)

// FieldError describes one failed check of a payload.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// SignupPayload is the body accepted by the validation route.
type SignupPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   *int   `json:"age"`
	Bio   string `json:"bio"`
}

// Result contains the outcome of validation
type Result struct {
	IsValid bool         `json:"is_valid"`
	Errors  []FieldError `json:"errors,omitempty"`
}

const (
	MinAge       = 13
	MaxAge       = 130
	MaxBioLength = 280
)

// ValidateSignup checks every field and reports all failures, in field order.
func ValidateSignup(p SignupPayload) Result {
	var errs []FieldError

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Rule: RuleRequired, Message: "name is required"})
	}

	switch {
	case strings.TrimSpace(p.Email) == "":
		errs = append(errs, FieldError{Field: "email", Rule: RuleRequired, Message: "email is required"})
	case !validEmail(p.Email):
		errs = append(errs, FieldError{Field: "email", Rule: RuleFormat, Message: "email is not a valid address"})
	}

	if p.Age != nil && (*p.Age < MinAge || *p.Age > MaxAge) {
		errs = append(errs, FieldError{Field: "age", Rule: RuleRange, Message: "age must be between 13 and 130"})
	}

	if len([]rune(p.Bio)) > MaxBioLength {
		errs = append(errs, FieldError{Field: "bio", Rule: RuleLength, Message: "bio must be at most 280 characters"})
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

// validEmail accepts a bare address only, not "Name <addr>".
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

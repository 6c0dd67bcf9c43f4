package models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DateOnlyFormat = "2006-01-02"

const minVotingAge = 18

// ProfileDraft is the in-memory, not-yet-committed profile form state for
// one enrollment session. Images are held as raw bytes and never serialized
// to JSON.
type ProfileDraft struct {
	FirstName     string   `json:"first_name" validate:"required"`
	LastName      string   `json:"last_name" validate:"required"`
	AadhaarNumber string   `json:"aadhaar_number" validate:"required,aadhaar"`
	DateOfBirth   string   `json:"date_of_birth" validate:"required,dob"`
	PhoneNumber   string   `json:"phone_number" validate:"required,phone"`
	Email         string   `json:"email" validate:"required,email"`
	Location      Location `json:"location"`
	ProfileImage  []byte   `json:"-" form:"profile_image" validate:"required"`
	AadhaarImage  []byte   `json:"-" form:"aadhaar_image" validate:"required"`
}

// draftValidate is the compiled validator for profile drafts,
// set up once with the custom field rules.
var draftValidate *validator.Validate

var nonDigits = regexp.MustCompile(`[^0-9]`)

func init() {
	draftValidate = validator.New()

	// field names in violation messages follow the wire names
	draftValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			name = fld.Tag.Get("form")
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = draftValidate.RegisterValidation("aadhaar", validateAadhaar)
	_ = draftValidate.RegisterValidation("phone", validatePhone)
	_ = draftValidate.RegisterValidation("dob", validateDateOfBirth)
}

// validateAadhaar accepts a 12 digit Aadhaar number, with separators allowed.
func validateAadhaar(fl validator.FieldLevel) bool {
	digits := nonDigits.ReplaceAllString(fl.Field().String(), "")
	return len(digits) == 12
}

func validatePhone(fl validator.FieldLevel) bool {
	v := strings.TrimPrefix(strings.TrimSpace(fl.Field().String()), "+")
	if len(v) < 10 || len(v) > 15 {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validateDateOfBirth requires a parseable past date that meets the voting
// age floor.
func validateDateOfBirth(fl validator.FieldLevel) bool {
	dob, err := time.Parse(DateOnlyFormat, fl.Field().String())
	if err != nil {
		return false
	}
	now := time.Now()
	if dob.After(now) {
		return false
	}
	age := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		age--
	}
	return age >= minVotingAge
}

// Validate checks the draft against the field schema and the location
// hierarchy. Returns a *ValidationError describing every violated field,
// or nil when the draft is submittable.
func (d ProfileDraft) Validate() error {
	verr := &ValidationError{}

	if err := draftValidate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate draft: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
	}

	if err := d.Location.validateHierarchy(); err != nil {
		verr.Fields = append(verr.Fields, FieldError{Field: "location", Message: err.Error()})
	} else if !d.Location.Complete() {
		verr.Fields = append(verr.Fields, FieldError{
			Field:   "location",
			Message: "state, district, mandal and constituency must all be selected",
		})
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// validateHierarchy rejects a child selection whose parent is missing.
func (l Location) validateHierarchy() error {
	if !l.District.IsZero() && l.State.IsZero() {
		return errors.New("district selected without a state")
	}
	if !l.Mandal.IsZero() && l.District.IsZero() {
		return errors.New("mandal selected without a district")
	}
	if !l.Constituency.IsZero() && l.Mandal.IsZero() {
		return errors.New("constituency selected without a mandal")
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "aadhaar":
		return "must contain exactly 12 digits"
	case "phone":
		return "must be a valid phone number"
	case "dob":
		return fmt.Sprintf("must be a valid %s date of a person aged %d or over", DateOnlyFormat, minVotingAge)
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates per-field violations found before any network
// call is made.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

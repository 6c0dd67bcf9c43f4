package enrollment

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"go-voter-enrollment/models"
)

// Field names used in emitted mismatches, in comparison order.
const (
	FieldName          = "name"
	FieldDateOfBirth   = "dob"
	FieldAadhaarNumber = "aadhaar_number"
)

var foldCaser = cases.Fold()

// DetectMismatches compares the gateway-extracted text details against the
// entered draft fields and returns one mismatch per disagreeing field.
// Pure and order-stable: name, then dob, then aadhaar number.
//
// A missing extracted value only counts as a mismatch when the entered
// value is non-empty; empty against missing is not flagged.
func DetectMismatches(extracted models.TextDetails, draft models.ProfileDraft) []models.Mismatch {
	var mismatches []models.Mismatch

	enteredName := strings.TrimSpace(draft.FirstName + " " + draft.LastName)
	if mismatchedText(extracted.Name, enteredName) {
		mismatches = append(mismatches, models.Mismatch{
			Field:     FieldName,
			Extracted: extracted.Name,
			Entered:   enteredName,
		})
	}

	if mismatchedDate(extracted.DateOfBirth, draft.DateOfBirth) {
		mismatches = append(mismatches, models.Mismatch{
			Field:     FieldDateOfBirth,
			Extracted: extracted.DateOfBirth,
			Entered:   draft.DateOfBirth,
		})
	}

	if mismatchedDigits(extracted.AadhaarNumber, draft.AadhaarNumber) {
		mismatches = append(mismatches, models.Mismatch{
			Field:     FieldAadhaarNumber,
			Extracted: extracted.AadhaarNumber,
			Entered:   draft.AadhaarNumber,
		})
	}

	return mismatches
}

func mismatchedText(extracted, entered string) bool {
	e := normalizeText(extracted)
	if e == "" {
		return normalizeText(entered) != ""
	}
	return e != normalizeText(entered)
}

func mismatchedDigits(extracted, entered string) bool {
	e := digitsOnly(extracted)
	if e == "" {
		return digitsOnly(entered) != ""
	}
	return e != digitsOnly(entered)
}

// mismatchedDate compares by calendar date, ignoring time of day and zone.
// When either side is not a recognizable date the comparison falls back to
// normalized text.
func mismatchedDate(extracted, entered string) bool {
	if strings.TrimSpace(extracted) == "" {
		return strings.TrimSpace(entered) != ""
	}
	ed, eok := parseCalendarDate(extracted)
	nd, nok := parseCalendarDate(entered)
	if eok && nok {
		ey, em, edd := ed.Date()
		ny, nm, ndd := nd.Date()
		return ey != ny || em != nm || edd != ndd
	}
	return normalizeText(extracted) != normalizeText(entered)
}

// normalizeText trims, applies NFKC normalization and Unicode case folding.
func normalizeText(s string) string {
	return foldCaser.String(norm.NFKC.String(strings.TrimSpace(s)))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Date layouts the gateway is known to emit.
var dateLayouts = []string{
	models.DateOnlyFormat,
	"02-01-2006",
	"02/01/2006",
	time.RFC3339,
}

func parseCalendarDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

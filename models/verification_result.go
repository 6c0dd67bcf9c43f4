package models

// VerificationResult is the response of the document-verification gateway
// for one submission attempt. The gateway returns this shape on every HTTP
// status; a failed verification and a transport-level failure are rendered
// the same way downstream.
type VerificationResult struct {
	FaceVerification       FaceVerification `json:"face_verification"`
	LivenessCheck          LivenessCheck    `json:"liveness_check"`
	IdCardProcessingStatus string           `json:"id_card_processing_status"`
	TextDetails            TextDetails      `json:"text_details"`
	OverallStatus          string           `json:"overall_status"`
	Errors                 []string         `json:"errors,omitempty"`
	Warnings               []string         `json:"warnings,omitempty"`
}

type FaceVerification struct {
	VerifiedBySystem bool    `json:"verified_by_system"`
	Distance         float64 `json:"distance"`
	Metric           string  `json:"metric"`
}

type LivenessCheck struct {
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
}

// TextDetails holds the fields the gateway extracted from the id card image.
type TextDetails struct {
	Name                 string  `json:"name"`
	DateOfBirth          string  `json:"dob"`
	AadhaarNumber        string  `json:"aadhaar_no"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
}

// Mismatch is a disagreement between an extracted and an entered field value.
// Values are the raw, non-normalized ones so they can be shown to the user.
type Mismatch struct {
	Field     string `json:"field"`
	Extracted string `json:"extracted"`
	Entered   string `json:"entered"`
}

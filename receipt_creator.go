package main

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"go-voter-enrollment/models"
)

// ReceiptCreator signs the enrollment receipt handed to the front end when
// a session reaches the done phase. The receipt is the proof the voting
// feature accepts that a committed, verified profile backs this session.
type ReceiptCreator interface {
	CreateEnrollmentReceipt(sessionId string, draft models.ProfileDraft, result *models.VerificationResult) (receipt string, err error)
}

type JwtReceiptCreator struct {
	privateKey *rsa.PrivateKey
	issuer     string
	ttl        time.Duration
}

func NewJwtReceiptCreator(privateKeyPath string, issuer string, ttl time.Duration) (*JwtReceiptCreator, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt signing key: %w", err)
	}

	return &JwtReceiptCreator{
		privateKey: privateKey,
		issuer:     issuer,
		ttl:        ttl,
	}, nil
}

func (rc *JwtReceiptCreator) CreateEnrollmentReceipt(sessionId string, draft models.ProfileDraft, result *models.VerificationResult) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":             rc.issuer,
		"iat":             now.Unix(),
		"exp":             now.Add(rc.ttl).Unix(),
		"session_id":      sessionId,
		"state_id":        draft.Location.State.Id,
		"district_id":     draft.Location.District.Id,
		"mandal_id":       draft.Location.Mandal.Id,
		"constituency_id": draft.Location.Constituency.Id,
	}
	if result != nil {
		claims["face_verified"] = result.FaceVerification.VerifiedBySystem
		claims["liveness_passed"] = result.LivenessCheck.Passed
		claims["overall_status"] = result.OverallStatus
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(rc.privateKey)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"go-voter-enrollment/models"
)

// VerificationGatewayClient calls the remote document-verification service.
// Implements enrollment.VerificationGateway.
type VerificationGatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewVerificationGatewayClient(baseURL string, timeout time.Duration) *VerificationGatewayClient {
	return &VerificationGatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Verify posts the two images as a multipart payload and parses the body
// into a VerificationResult on any HTTP status: the gateway reports
// verification failure through the same shape it reports success, so a
// non-200 response is still a result. Only transport-level failures and
// unparseable bodies surface as errors.
func (c *VerificationGatewayClient) Verify(ctx context.Context, idCardImage, liveFaceImage []byte) (*models.VerificationResult, error) {
	url := fmt.Sprintf("%s/api/verify-identity", c.baseURL)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writeImagePart(writer, "id_card_image", "id_card.jpg", idCardImage); err != nil {
		return nil, err
	}
	if err := writeImagePart(writer, "live_face_image", "live_face.jpg", liveFaceImage); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute verification request: %w", err)
	}
	defer resp.Body.Close()

	var result models.VerificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode verification response (status %d): %w", resp.StatusCode, err)
	}

	slog.Info("Verification gateway responded",
		"status_code", resp.StatusCode,
		"overall_status", result.OverallStatus,
		"face_verified", result.FaceVerification.VerifiedBySystem,
		"liveness_passed", result.LivenessCheck.Passed)

	return &result, nil
}

// HealthCheck verifies the gateway is reachable.
func (c *VerificationGatewayClient) HealthCheck() error {
	url := fmt.Sprintf("%s/api/health", c.baseURL)

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func writeImagePart(writer *multipart.Writer, field, filename string, data []byte) error {
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create %s form file: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write %s payload: %w", field, err)
	}
	return nil
}

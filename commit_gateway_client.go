package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"go-voter-enrollment/models"
)

// CommitGatewayClient performs the authoritative profile write against the
// enrollment backend. Implements enrollment.CommitGateway.
type CommitGatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewCommitGatewayClient(baseURL string, timeout time.Duration) *CommitGatewayClient {
	return &CommitGatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Commit posts the entered profile fields, both images and the resolved
// location ids as a multipart form. The field names are fixed by the
// backend contract. Any non-2xx response is a failure the caller may retry.
func (c *CommitGatewayClient) Commit(ctx context.Context, draft models.ProfileDraft) error {
	url := fmt.Sprintf("%s/api/profile/commit", c.baseURL)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"firstName":      draft.FirstName,
		"lastName":       draft.LastName,
		"email":          draft.Email,
		"dob":            draft.DateOfBirth,
		"aadharNumber":   draft.AadhaarNumber,
		"phoneNumber":    draft.PhoneNumber,
		"stateId":        draft.Location.State.Id,
		"districtId":     draft.Location.District.Id,
		"mandalId":       draft.Location.Mandal.Id,
		"constituencyId": draft.Location.Constituency.Id,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write %s field: %w", name, err)
		}
	}

	if err := writeImagePart(writer, "aadharImage", "aadhaar.jpg", draft.AadhaarImage); err != nil {
		return err
	}
	if err := writeImagePart(writer, "profileImage", "profile.jpg", draft.ProfileImage); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create commit request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute commit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("profile commit failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	slog.Info("Profile commit accepted", "status_code", resp.StatusCode)
	return nil
}

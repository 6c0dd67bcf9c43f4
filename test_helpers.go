package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-voter-enrollment/models"
)

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8084,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

const testBaseURL = "http://localhost:8084"

func startTestServer(t *testing.T, store SessionStore, verifier *fakeGatewayVerifier, committer *fakeGatewayCommitter) *SessionRegistry {
	t.Helper()

	registry := NewSessionRegistry(time.Hour)
	testState := &ServerState{
		sessionStore:   store,
		registry:       registry,
		verifier:       verifier,
		committer:      committer,
		receiptCreator: fakeReceiptCreator{receipt: "test-receipt"},
		maxAttempts:    3,
	}

	srv, err := NewServer(testState, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return registry
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// start-enrollment bootstrap
func startEnrollment(t *testing.T) (sessionId, nonce string) {
	t.Helper()
	resp, body, sr := postJSON[StartEnrollmentResponse](t, testBaseURL+"/api/start-enrollment", nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	require.NotEmpty(t, sr.Nonce)
	return sr.SessionId, sr.Nonce
}

// Submission builders

type formOpt func(map[string]string, map[string][]byte)

func withoutImage(field string) formOpt {
	return func(_ map[string]string, files map[string][]byte) { delete(files, field) }
}

func withField(name, value string) formOpt {
	return func(fields map[string]string, _ map[string][]byte) { fields[name] = value }
}

func submitEnrollment(t *testing.T, sessionId, nonce string, opts ...formOpt) (*http.Response, []byte, *EnrollmentResponse) {
	t.Helper()

	fields := map[string]string{
		"session_id":        sessionId,
		"nonce":             nonce,
		"first_name":        "Asha",
		"last_name":         "Reddy",
		"aadhaar_number":    "1234 5678 9012",
		"date_of_birth":     "1990-06-15",
		"phone_number":      "+919876543210",
		"email":             "asha.reddy@example.com",
		"state_id":          "ts",
		"state_name":        "Telangana",
		"district_id":       "hyd",
		"district_name":     "Hyderabad",
		"mandal_id":         "slp",
		"mandal_name":       "Serilingampally",
		"constituency_id":   "slp-1",
		"constituency_name": "Serilingampally",
	}
	files := map[string][]byte{
		"profile_image": testPngImage(t),
		"aadhaar_image": testPngImage(t),
	}
	for _, o := range opts {
		o(fields, files)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	resp, err := http.Post(testBaseURL+"/api/enrollment/submit", writer.FormDataContentType(), body)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var decoded EnrollmentResponse
	_ = json.Unmarshal(respBody, &decoded)
	return resp, respBody, &decoded
}

func testPngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func passedVerificationResult() *models.VerificationResult {
	return &models.VerificationResult{
		FaceVerification:       models.FaceVerification{VerifiedBySystem: true, Distance: 0.21, Metric: "cosine"},
		LivenessCheck:          models.LivenessCheck{Passed: true, Confidence: 0.97},
		IdCardProcessingStatus: "processed",
		TextDetails: models.TextDetails{
			Name:                 "Asha Reddy",
			DateOfBirth:          "1990-06-15",
			AadhaarNumber:        "1234-5678-9012",
			ExtractionConfidence: 0.92,
		},
		OverallStatus: "passed",
	}
}

func failedVerificationResult() *models.VerificationResult {
	r := passedVerificationResult()
	r.FaceVerification.VerifiedBySystem = false
	r.OverallStatus = "failed"
	return r
}

// test doubles

type fakeGatewayVerifier struct {
	mu     sync.Mutex
	calls  int
	result *models.VerificationResult
	err    error
}

func (f *fakeGatewayVerifier) Verify(ctx context.Context, idCardImage, liveFaceImage []byte) (*models.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func (f *fakeGatewayVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGatewayVerifier) setResult(r *models.VerificationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
	f.err = nil
}

type fakeGatewayCommitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGatewayCommitter) Commit(ctx context.Context, draft models.ProfileDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeGatewayCommitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGatewayCommitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeReceiptCreator struct{ receipt string }

func (f fakeReceiptCreator) CreateEnrollmentReceipt(_ string, _ models.ProfileDraft, _ *models.VerificationResult) (string, error) {
	return f.receipt, nil
}

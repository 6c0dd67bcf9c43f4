package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-voter-enrollment/models"
)

func validDraft() models.ProfileDraft {
	return models.ProfileDraft{
		FirstName:     "Asha",
		LastName:      "Reddy",
		AadhaarNumber: "1234 5678 9012",
		DateOfBirth:   "1990-06-15",
		PhoneNumber:   "+919876543210",
		Email:         "asha.reddy@example.com",
		Location: models.Location{
			State:        models.LocationRef{Id: "ts", Name: "Telangana"},
			District:     models.LocationRef{Id: "hyd", Name: "Hyderabad"},
			Mandal:       models.LocationRef{Id: "slp", Name: "Serilingampally"},
			Constituency: models.LocationRef{Id: "slp-1", Name: "Serilingampally"},
		},
		ProfileImage: []byte{0x01},
		AadhaarImage: []byte{0x02},
	}
}

func passResult() *models.VerificationResult {
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

func faceFailResult() *models.VerificationResult {
	r := passResult()
	r.FaceVerification.VerifiedBySystem = false
	r.OverallStatus = "failed"
	return r
}

type fakeVerifier struct {
	mu      sync.Mutex
	calls   int
	result  *models.VerificationResult
	err     error
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeVerifier) Verify(ctx context.Context, idCardImage, liveFaceImage []byte) (*models.VerificationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCommitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCommitter) Commit(ctx context.Context, draft models.ProfileDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeCommitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCommitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestSubmitWithoutImagesFailsValidationWithoutNetworkCall(t *testing.T) {
	verifier := &fakeVerifier{result: passResult()}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	draft := validDraft()
	draft.ProfileImage = nil

	out, err := session.Submit(context.Background(), draft)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, PhaseEditing, out.Phase)
	require.Equal(t, 0, verifier.callCount())
}

func TestSubmitWithInvalidFieldsFailsValidationWithoutNetworkCall(t *testing.T) {
	verifier := &fakeVerifier{result: passResult()}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	draft := validDraft()
	draft.Email = "not-an-email"
	draft.AadhaarNumber = "1234"

	_, err := session.Submit(context.Background(), draft)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 0, verifier.callCount())
}

func TestSubmitPassMakesProceedAvailable(t *testing.T) {
	verifier := &fakeVerifier{result: passResult()}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	out, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	require.Equal(t, PhaseResultReady, out.Phase)
	require.False(t, out.HasErrors)
	require.False(t, out.HasWarnings)
	require.True(t, out.CanProceed)
	require.False(t, out.CanRetry)
	require.Empty(t, out.Mismatches)
}

func TestSubmitFaceFailureOffersOnlyRetry(t *testing.T) {
	verifier := &fakeVerifier{result: faceFailResult()}
	committer := &fakeCommitter{}
	session := NewSession(verifier, committer, 3)

	out, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	require.Equal(t, PhaseResultReady, out.Phase)
	require.True(t, out.HasErrors)
	require.True(t, out.CanRetry)
	require.False(t, out.CanProceed)

	_, err = session.Proceed(context.Background())
	require.ErrorIs(t, err, ErrProceedBlocked)
	require.Equal(t, 0, committer.callCount())
}

func TestSubmitTransportFailureBecomesFailedResult(t *testing.T) {
	verifier := &fakeVerifier{err: errors.New("connection refused")}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	out, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	require.Equal(t, PhaseResultReady, out.Phase)
	require.NotNil(t, out.Result)
	require.Equal(t, "failed", out.Result.OverallStatus)
	require.Len(t, out.Result.Errors, 1)
	require.True(t, out.HasErrors)
	require.True(t, out.CanRetry)
}

func TestSubmitMismatchCountsAsError(t *testing.T) {
	result := passResult()
	result.TextDetails.Name = "Someone Else"
	verifier := &fakeVerifier{result: result}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	out, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	require.Len(t, out.Mismatches, 1)
	require.Equal(t, FieldName, out.Mismatches[0].Field)
	require.True(t, out.HasErrors)
	require.False(t, out.CanProceed)
}

func TestWarningsAllowProceed(t *testing.T) {
	result := passResult()
	result.Warnings = []string{"low extraction confidence"}
	verifier := &fakeVerifier{result: result}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	out, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	require.False(t, out.HasErrors)
	require.True(t, out.HasWarnings)
	require.True(t, out.CanProceed)
}

func TestRetryClearsResultAndKeepsDraft(t *testing.T) {
	verifier := &fakeVerifier{result: faceFailResult()}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	draft := validDraft()
	_, err := session.Submit(context.Background(), draft)
	require.NoError(t, err)

	out, err := session.Retry()
	require.NoError(t, err)

	require.Equal(t, PhaseEditing, out.Phase)
	require.Nil(t, out.Result)
	require.Empty(t, out.Mismatches)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, draft.AadhaarNumber, session.Draft().AadhaarNumber)
	require.Equal(t, draft.ProfileImage, session.Draft().ProfileImage)
}

func TestRetryNotAllowedWithoutErrors(t *testing.T) {
	verifier := &fakeVerifier{result: passResult()}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	_, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	_, err = session.Retry()
	require.ErrorIs(t, err, ErrInvalidPhase)
}

func TestRetryCapLocksSession(t *testing.T) {
	const maxAttempts = 3
	verifier := &fakeVerifier{result: faceFailResult()}
	session := NewSession(verifier, &fakeCommitter{}, maxAttempts)

	var out Outcome
	for i := 0; i < maxAttempts; i++ {
		_, err := session.Submit(context.Background(), validDraft())
		require.NoError(t, err)

		var rerr error
		out, rerr = session.Retry()
		require.NoError(t, rerr)
	}

	require.Equal(t, PhaseLocked, out.Phase)
	require.Equal(t, maxAttempts, out.Attempts)

	callsBefore := verifier.callCount()
	_, err := session.Submit(context.Background(), validDraft())
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, callsBefore, verifier.callCount())
}

func TestProceedCommitFailureRetainsStateForSecondAttempt(t *testing.T) {
	verifier := &fakeVerifier{result: passResult()}
	committer := &fakeCommitter{err: errors.New("backend unavailable")}
	session := NewSession(verifier, committer, 3)

	_, err := session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	out, err := session.Proceed(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseCommitFailed, out.Phase)
	require.Contains(t, out.CommitErr, "backend unavailable")
	require.NotNil(t, out.Result)
	require.True(t, out.CanProceed)

	committer.setErr(nil)

	out, err = session.Proceed(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseDone, out.Phase)
	require.Equal(t, 1, verifier.callCount())
	require.Equal(t, 2, committer.callCount())
}

func TestProceedInvalidFromEditing(t *testing.T) {
	session := NewSession(&fakeVerifier{result: passResult()}, &fakeCommitter{}, 3)

	_, err := session.Proceed(context.Background())
	require.ErrorIs(t, err, ErrInvalidPhase)
}

func TestConcurrentSubmitsShareOneNetworkCall(t *testing.T) {
	verifier := &fakeVerifier{
		result:  passResult(),
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	outcomes := make(chan Outcome, 2)
	errs := make(chan error, 2)

	go func() {
		out, err := session.Submit(context.Background(), validDraft())
		outcomes <- out
		errs <- err
	}()

	<-verifier.started

	go func() {
		out, err := session.Submit(context.Background(), validDraft())
		outcomes <- out
		errs <- err
	}()

	// give the joiner a moment to observe the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(verifier.gate)

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		out := <-outcomes
		require.Equal(t, PhaseResultReady, out.Phase)
	}
	require.Equal(t, 1, verifier.callCount())
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	verifier := &fakeVerifier{
		result:  passResult(),
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	errs := make(chan error, 1)
	go func() {
		_, err := session.Submit(context.Background(), validDraft())
		errs <- err
	}()

	<-verifier.started
	session.Close()
	close(verifier.gate)

	require.ErrorIs(t, <-errs, ErrSessionClosed)

	_, err := session.Submit(context.Background(), validDraft())
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestApplyLocationOnlyWhileEditing(t *testing.T) {
	verifier := &fakeVerifier{result: passResult()}
	session := NewSession(verifier, &fakeCommitter{}, 3)

	err := session.ApplyLocation(LevelState, models.LocationRef{Id: "ap", Name: "Andhra Pradesh"})
	require.NoError(t, err)
	require.Equal(t, "ap", session.Draft().Location.State.Id)

	_, err = session.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	err = session.ApplyLocation(LevelDistrict, models.LocationRef{Id: "gtr", Name: "Guntur"})
	require.ErrorIs(t, err, ErrInvalidPhase)
}

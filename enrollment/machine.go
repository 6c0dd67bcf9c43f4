package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-voter-enrollment/models"
)

// Phase is the state of an enrollment session's verification workflow.
type Phase int

const (
	PhaseEditing Phase = iota
	PhaseSubmittingVerification
	PhaseResultReady
	PhaseCommitting
	PhaseDone
	PhaseCommitFailed
	PhaseLocked
)

var phaseNames = [...]string{
	"editing",
	"submitting_verification",
	"result_ready",
	"committing",
	"done",
	"commit_failed",
	"locked",
}

func (p Phase) String() string {
	if p < PhaseEditing || p > PhaseLocked {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

var (
	// ErrInvalidPhase is returned when an operation is called from a phase
	// it is not valid in.
	ErrInvalidPhase = errors.New("operation not valid in current phase")

	// ErrAttemptsExhausted is returned once the retry cap is reached; the
	// session is locked and accepts no further submissions.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")

	// ErrProceedBlocked is returned when Proceed is called while the last
	// verification result still reports errors or mismatches.
	ErrProceedBlocked = errors.New("verification reported errors, only retry is available")

	// ErrSessionClosed is returned after Close; late results of in-flight
	// calls are discarded.
	ErrSessionClosed = errors.New("enrollment session closed")
)

// VerificationGateway sends the two captured images to the remote
// document-verification service.
type VerificationGateway interface {
	Verify(ctx context.Context, idCardImage, liveFaceImage []byte) (*models.VerificationResult, error)
}

// CommitGateway performs the authoritative profile write. The entered
// fields are committed, never the extracted ones.
type CommitGateway interface {
	Commit(ctx context.Context, draft models.ProfileDraft) error
}

// Outcome is an immutable snapshot of the session handed back from every
// operation, carrying everything a caller needs to render the step.
type Outcome struct {
	Phase       Phase
	Result      *models.VerificationResult
	Mismatches  []models.Mismatch
	HasErrors   bool
	HasWarnings bool
	CanProceed  bool
	CanRetry    bool
	Attempts    int
	CommitErr   string
}

// call is one in-flight remote operation. Concurrent identical invocations
// join it and share its outcome instead of issuing duplicate requests.
type call struct {
	done    chan struct{}
	outcome Outcome
	err     error
}

// Session is the verification state machine for one enrollment, owned by a
// single browser session. All operations are safe for concurrent use;
// Submit and Proceed are non-reentrant in the single-flight sense.
type Session struct {
	verifier    VerificationGateway
	committer   CommitGateway
	maxAttempts int

	mu            sync.Mutex
	phase         Phase
	draft         models.ProfileDraft
	result        *models.VerificationResult
	mismatches    []models.Mismatch
	retries       int
	lastCommitErr error
	generation    uint64
	closed        bool

	submitCall  *call
	proceedCall *call
}

// NewSession creates a session in the editing phase. maxAttempts is the
// externally supplied retry cap; zero or negative means uncapped.
func NewSession(verifier VerificationGateway, committer CommitGateway, maxAttempts int) *Session {
	return &Session{
		verifier:    verifier,
		committer:   committer,
		maxAttempts: maxAttempts,
		phase:       PhaseEditing,
	}
}

// Submit validates the draft and runs the verification round-trip. With an
// invalid draft it returns a *models.ValidationError and issues no network
// call. A transport failure is converted into a synthetic failed result so
// the caller always has a result shape to render.
func (s *Session) Submit(ctx context.Context, draft models.ProfileDraft) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrSessionClosed
	}
	if s.phase == PhaseLocked {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out, ErrAttemptsExhausted
	}
	if c := s.submitCall; c != nil {
		// join the in-flight submission
		s.mu.Unlock()
		<-c.done
		return c.outcome, c.err
	}
	if s.phase != PhaseEditing {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out, ErrInvalidPhase
	}
	if err := draft.Validate(); err != nil {
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out, err
	}

	s.draft = draft
	s.phase = PhaseSubmittingVerification
	gen := s.generation
	c := &call{done: make(chan struct{})}
	s.submitCall = c
	s.mu.Unlock()

	result, err := s.verifier.Verify(ctx, draft.AadhaarImage, draft.ProfileImage)
	if err != nil || result == nil {
		result = transportFailureResult(err)
	}

	s.mu.Lock()
	if s.closed || s.generation != gen {
		// the session was torn down while the request was in flight
		s.mu.Unlock()
		c.err = ErrSessionClosed
		close(c.done)
		return Outcome{}, ErrSessionClosed
	}
	s.result = result
	s.mismatches = DetectMismatches(result.TextDetails, s.draft)
	s.phase = PhaseResultReady
	s.submitCall = nil
	out := s.snapshotLocked()
	s.mu.Unlock()

	c.outcome = out
	close(c.done)
	return out, nil
}

// Retry discards the current result and returns to editing with the draft
// intact. Only valid from the result phase while errors are present.
// Reaching the retry cap transitions to the terminal locked phase instead.
func (s *Session) Retry() (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Outcome{}, ErrSessionClosed
	}
	if s.phase != PhaseResultReady || !s.hasErrorsLocked() {
		return s.snapshotLocked(), ErrInvalidPhase
	}

	s.result = nil
	s.mismatches = nil
	s.retries++
	if s.maxAttempts > 0 && s.retries >= s.maxAttempts {
		s.phase = PhaseLocked
	} else {
		s.phase = PhaseEditing
	}
	return s.snapshotLocked(), nil
}

// Proceed commits the entered draft. Valid from the result phase when no
// errors are present (warnings allowed), and again from the commit-failed
// phase, where it re-attempts the commit without re-running verification.
// Gateway failure is a state transition, not a returned error.
func (s *Session) Proceed(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrSessionClosed
	}
	if c := s.proceedCall; c != nil {
		s.mu.Unlock()
		<-c.done
		return c.outcome, c.err
	}
	switch s.phase {
	case PhaseResultReady:
		if s.hasErrorsLocked() {
			out := s.snapshotLocked()
			s.mu.Unlock()
			return out, ErrProceedBlocked
		}
	case PhaseCommitFailed:
	default:
		out := s.snapshotLocked()
		s.mu.Unlock()
		return out, ErrInvalidPhase
	}

	s.phase = PhaseCommitting
	s.lastCommitErr = nil
	gen := s.generation
	draft := s.draft
	c := &call{done: make(chan struct{})}
	s.proceedCall = c
	s.mu.Unlock()

	err := s.committer.Commit(ctx, draft)

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		c.err = ErrSessionClosed
		close(c.done)
		return Outcome{}, ErrSessionClosed
	}
	if err != nil {
		s.phase = PhaseCommitFailed
		s.lastCommitErr = err
	} else {
		s.phase = PhaseDone
	}
	s.proceedCall = nil
	out := s.snapshotLocked()
	s.mu.Unlock()

	c.outcome = out
	close(c.done)
	return out, nil
}

// ApplyLocation updates the draft's location through the cascading
// selection rule. Only valid while editing.
func (s *Session) ApplyLocation(level LocationLevel, ref models.LocationRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.phase != PhaseEditing {
		return ErrInvalidPhase
	}
	s.draft.Location = ApplyLocationSelection(s.draft.Location, level, ref)
	return nil
}

// Status returns the current snapshot without side effects.
func (s *Session) Status() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() models.ProfileDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Close tears the session down. Results of requests still in flight are
// discarded when they arrive; no state is mutated after Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.generation++
}

// hasErrorsLocked implements the decision rule at the result phase.
func (s *Session) hasErrorsLocked() bool {
	if s.result == nil {
		return false
	}
	return !s.result.FaceVerification.VerifiedBySystem ||
		!s.result.LivenessCheck.Passed ||
		len(s.mismatches) > 0 ||
		len(s.result.Errors) > 0
}

func (s *Session) snapshotLocked() Outcome {
	out := Outcome{
		Phase:    s.phase,
		Attempts: s.retries,
	}
	if s.result != nil {
		r := *s.result
		out.Result = &r
		out.Mismatches = append([]models.Mismatch(nil), s.mismatches...)
		out.HasErrors = s.hasErrorsLocked()
		out.HasWarnings = len(s.result.Warnings) > 0
	}
	out.CanRetry = s.phase == PhaseResultReady && out.HasErrors
	out.CanProceed = (s.phase == PhaseResultReady && !out.HasErrors) || s.phase == PhaseCommitFailed
	if s.lastCommitErr != nil {
		out.CommitErr = s.lastCommitErr.Error()
	}
	return out
}

// transportFailureResult renders an unreachable gateway as a failed
// verification so the retry path handles both cases identically.
func transportFailureResult(err error) *models.VerificationResult {
	msg := "verification service unreachable"
	if err != nil {
		msg = fmt.Sprintf("verification service unreachable: %v", err)
	}
	return &models.VerificationResult{
		OverallStatus: "failed",
		Errors:        []string{msg},
	}
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"go-voter-enrollment/enrollment"
	"go-voter-enrollment/images"
	"go-voter-enrollment/models"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_INVALID_NONCE_SESSION = "invalid session or nonce"
const ERR_UNKNOWN_SESSION = "unknown or expired session"
const ERR_SESSION_RETRIEVAL = "failed to get session record from storage"
const ERR_SESSION_REMOVAL = "failed to remove session record from storage"
const ERR_RECEIPT_CREATION = "failed to create enrollment receipt"

// maxUploadBytes bounds the submit payload; two photos fit comfortably.
const maxUploadBytes = 20 << 20

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	sessionStore   SessionStore
	registry       *SessionRegistry
	verifier       enrollment.VerificationGateway
	committer      enrollment.CommitGateway
	receiptCreator ReceiptCreator
	maxAttempts    int
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/start-enrollment", func(w http.ResponseWriter, r *http.Request) {
		handleStartEnrollment(state, w, r)
	})
	router.HandleFunc("/api/enrollment/submit", func(w http.ResponseWriter, r *http.Request) {
		handleSubmitEnrollment(state, w, r)
	})
	router.HandleFunc("/api/enrollment/retry", func(w http.ResponseWriter, r *http.Request) {
		handleRetryEnrollment(state, w, r)
	})
	router.HandleFunc("/api/enrollment/proceed", func(w http.ResponseWriter, r *http.Request) {
		handleProceedEnrollment(state, w, r)
	})
	router.HandleFunc("/api/enrollment/status", func(w http.ResponseWriter, r *http.Request) {
		handleEnrollmentStatus(state, w, r)
	}).Methods(http.MethodGet)

	slog.Debug("Registered all API routes")

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  30 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

type StartEnrollmentResponse struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// EnrollmentResponse is the uniform snapshot returned by the workflow
// endpoints, carrying what the front end needs to render the current step.
type EnrollmentResponse struct {
	Phase       string                     `json:"phase"`
	Attempts    int                        `json:"attempts"`
	Result      *models.VerificationResult `json:"result,omitempty"`
	Mismatches  []models.Mismatch          `json:"mismatches,omitempty"`
	HasErrors   bool                       `json:"has_errors"`
	HasWarnings bool                       `json:"has_warnings"`
	CanProceed  bool                       `json:"can_proceed"`
	CanRetry    bool                       `json:"can_retry"`
	CommitError string                     `json:"commit_error,omitempty"`
	Receipt     string                     `json:"receipt,omitempty"`
}

type ValidationFailureResponse struct {
	Error  string              `json:"error"`
	Fields []models.FieldError `json:"fields"`
}

type sessionRef struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

func handleStartEnrollment(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start an enrollment session")

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	nonce, err := GenerateNonce(8)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate nonce", err)
		return
	}

	record := SessionRecord{Nonce: nonce, CreatedAt: time.Now()}
	if err := state.sessionStore.StoreSession(sessionId, record); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store session record", err)
		return
	}

	state.registry.Put(sessionId, enrollment.NewSession(state.verifier, state.committer, state.maxAttempts))
	slog.Debug("Enrollment session registered", "session_id", sessionId)

	response := StartEnrollmentResponse{
		SessionId: sessionId,
		Nonce:     nonce,
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Enrollment session started successfully", "session_id", sessionId)
}

func handleSubmitEnrollment(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received enrollment submission")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to parse multipart form", err)
		return
	}

	sessionId := r.FormValue("session_id")
	session, ok := requireSession(state, w, sessionId, r.FormValue("nonce"))
	if !ok {
		return
	}

	draft, verr := draftFromForm(r)
	if verr != nil {
		slog.Warn("Rejecting submission with unusable uploads", "session_id", sessionId, "error", verr)
		writeValidationFailure(w, verr)
		return
	}

	out, err := session.Submit(r.Context(), draft)
	if err != nil {
		respondWorkflowErr(w, sessionId, "submit", err)
		return
	}

	slog.Info("Enrollment submission processed", "session_id", sessionId,
		"phase", out.Phase.String(), "has_errors", out.HasErrors, "mismatches", len(out.Mismatches))

	if err := writeJSON(w, http.StatusOK, outcomeResponse(out, "")); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleRetryEnrollment(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	ref, err := decodeSessionRef(r)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode retry request", err)
		return
	}

	session, ok := requireSession(state, w, ref.SessionId, ref.Nonce)
	if !ok {
		return
	}

	out, err := session.Retry()
	if err != nil {
		respondWorkflowErr(w, ref.SessionId, "retry", err)
		return
	}

	// mirror the retry count into the stored record so a restarted or
	// load-balanced instance sees a consistent cap
	if record, rerr := state.sessionStore.RetrieveSession(ref.SessionId); rerr == nil {
		record.Retries = out.Attempts
		if serr := state.sessionStore.StoreSession(ref.SessionId, record); serr != nil {
			slog.Warn("Failed to persist retry count", "session_id", ref.SessionId, "error", serr)
		}
	}

	slog.Info("Enrollment retry accepted", "session_id", ref.SessionId,
		"phase", out.Phase.String(), "attempts", out.Attempts)

	if err := writeJSON(w, http.StatusOK, outcomeResponse(out, "")); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleProceedEnrollment(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	ref, err := decodeSessionRef(r)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode proceed request", err)
		return
	}

	session, ok := requireSession(state, w, ref.SessionId, ref.Nonce)
	if !ok {
		return
	}

	out, err := session.Proceed(r.Context())
	if err != nil {
		respondWorkflowErr(w, ref.SessionId, "proceed", err)
		return
	}

	receipt := ""
	if out.Phase == enrollment.PhaseDone {
		receipt, err = state.receiptCreator.CreateEnrollmentReceipt(ref.SessionId, session.Draft(), out.Result)
		if err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_RECEIPT_CREATION, err)
			return
		}

		// the session is single use: drop the stored record and the live machine
		if rerr := state.sessionStore.RemoveSession(ref.SessionId); rerr != nil {
			slog.Warn(ERR_SESSION_REMOVAL, "session_id", ref.SessionId, "error", rerr)
		}
		state.registry.Remove(ref.SessionId)
		slog.Info("Enrollment committed successfully", "session_id", ref.SessionId)
	} else {
		slog.Warn("Enrollment commit did not complete", "session_id", ref.SessionId,
			"phase", out.Phase.String(), "commit_error", out.CommitErr)
	}

	if err := writeJSON(w, http.StatusOK, outcomeResponse(out, receipt)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleEnrollmentStatus(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	sessionId := r.URL.Query().Get("session_id")
	session, ok := requireSession(state, w, sessionId, r.URL.Query().Get("nonce"))
	if !ok {
		return
	}

	if err := writeJSON(w, http.StatusOK, outcomeResponse(session.Status(), "")); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// -----------------------------------------------------------------------------------

// requireSession validates the nonce against the stored record and resolves
// the live state machine; on failure it writes the error response itself.
func requireSession(state *ServerState, w http.ResponseWriter, sessionId, nonce string) (*enrollment.Session, bool) {
	if err := validateSession(state.sessionStore, sessionId, nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_NONCE_SESSION, ERR_INVALID_NONCE_SESSION, err)
		return nil, false
	}

	session := state.registry.Get(sessionId)
	if session == nil {
		respondWithErr(w, http.StatusBadRequest, ERR_UNKNOWN_SESSION, ERR_UNKNOWN_SESSION, fmt.Errorf("no live session for %s", sessionId))
		return nil, false
	}
	return session, true
}

// validateSession validates session and nonce
func validateSession(store SessionStore, sessionId, nonce string) error {
	slog.Debug("Validating session and nonce", "session_id", sessionId)
	record, err := store.RetrieveSession(sessionId)
	if err != nil {
		slog.Warn("Failed to retrieve session record from storage", "session_id", sessionId, "error", err)
		return fmt.Errorf("%s: %w", ERR_SESSION_RETRIEVAL, err)
	}

	if record.Nonce == "" || record.Nonce != nonce {
		slog.Warn("Invalid nonce or session", "session_id", sessionId, "nonce_empty", record.Nonce == "", "nonce_match", record.Nonce == nonce)
		return fmt.Errorf("%s", ERR_INVALID_NONCE_SESSION)
	}

	slog.Debug("Session validation successful", "session_id", sessionId)
	return nil
}

// respondWorkflowErr maps state machine errors onto HTTP responses.
func respondWorkflowErr(w http.ResponseWriter, sessionId, op string, err error) {
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &validationErr):
		slog.Warn("Submission rejected by draft validation", "session_id", sessionId, "fields", len(validationErr.Fields))
		writeValidationFailure(w, validationErr)
	case errors.Is(err, enrollment.ErrAttemptsExhausted):
		respondWithErr(w, http.StatusForbidden, "verification attempts exhausted", op+" refused", err)
	case errors.Is(err, enrollment.ErrProceedBlocked):
		respondWithErr(w, http.StatusConflict, "verification reported errors, retry instead", op+" refused", err)
	case errors.Is(err, enrollment.ErrInvalidPhase):
		respondWithErr(w, http.StatusConflict, "operation not valid in current phase", op+" refused", err)
	case errors.Is(err, enrollment.ErrSessionClosed):
		respondWithErr(w, http.StatusBadRequest, ERR_UNKNOWN_SESSION, op+" refused", err)
	default:
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, op+" failed", err)
	}
}

func writeValidationFailure(w http.ResponseWriter, verr *models.ValidationError) {
	response := ValidationFailureResponse{
		Error:  "validation_failed",
		Fields: verr.Fields,
	}
	if err := writeJSON(w, http.StatusBadRequest, response); err != nil {
		slog.Error(ERR_MARSHAL, "error", err)
	}
}

func outcomeResponse(out enrollment.Outcome, receipt string) EnrollmentResponse {
	return EnrollmentResponse{
		Phase:       out.Phase.String(),
		Attempts:    out.Attempts,
		Result:      out.Result,
		Mismatches:  out.Mismatches,
		HasErrors:   out.HasErrors,
		HasWarnings: out.HasWarnings,
		CanProceed:  out.CanProceed,
		CanRetry:    out.CanRetry,
		CommitError: out.CommitErr,
		Receipt:     receipt,
	}
}

// decodeSessionRef decodes the request body
func decodeSessionRef(r *http.Request) (sessionRef, error) {
	var ref sessionRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		slog.Warn("Failed to decode session reference", "error", err)
		return ref, fmt.Errorf("decode request body: %w", err)
	}
	return ref, nil
}

// draftFromForm builds the profile draft from the submitted multipart form,
// normalizing both uploads. Unreadable or undecodable uploads are reported
// as field errors; missing uploads are left for draft validation to flag.
func draftFromForm(r *http.Request) (models.ProfileDraft, *models.ValidationError) {
	draft := models.ProfileDraft{
		FirstName:     strings.TrimSpace(r.FormValue("first_name")),
		LastName:      strings.TrimSpace(r.FormValue("last_name")),
		AadhaarNumber: strings.TrimSpace(r.FormValue("aadhaar_number")),
		DateOfBirth:   strings.TrimSpace(r.FormValue("date_of_birth")),
		PhoneNumber:   strings.TrimSpace(r.FormValue("phone_number")),
		Email:         strings.TrimSpace(r.FormValue("email")),
		Location:      locationFromForm(r),
	}

	verr := &models.ValidationError{}
	for _, upload := range []struct {
		field string
		dst   *[]byte
	}{
		{"profile_image", &draft.ProfileImage},
		{"aadhaar_image", &draft.AadhaarImage},
	} {
		data, err := formImageBytes(r, upload.field)
		if err != nil {
			verr.Fields = append(verr.Fields, models.FieldError{Field: upload.field, Message: "could not read upload"})
			continue
		}
		if len(data) == 0 {
			continue
		}
		normalized, err := images.Normalize(data)
		if err != nil {
			verr.Fields = append(verr.Fields, models.FieldError{Field: upload.field, Message: err.Error()})
			continue
		}
		*upload.dst = normalized
	}

	if len(verr.Fields) > 0 {
		return draft, verr
	}
	return draft, nil
}

// locationFromForm applies the submitted levels through the cascading
// selection rule, so a submitted child without its parent gets the same
// treatment as every other call site.
func locationFromForm(r *http.Request) models.Location {
	var loc models.Location
	for _, l := range []struct {
		level     enrollment.LocationLevel
		idField   string
		nameField string
	}{
		{enrollment.LevelState, "state_id", "state_name"},
		{enrollment.LevelDistrict, "district_id", "district_name"},
		{enrollment.LevelMandal, "mandal_id", "mandal_name"},
		{enrollment.LevelConstituency, "constituency_id", "constituency_name"},
	} {
		id := strings.TrimSpace(r.FormValue(l.idField))
		if id == "" {
			continue
		}
		ref := models.LocationRef{Id: id, Name: strings.TrimSpace(r.FormValue(l.nameField))}
		loc = enrollment.ApplyLocationSelection(loc, l.level, ref)
	}
	return loc
}

func formImageBytes(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, maxUploadBytes))
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	return hex.EncodeToString(sessionId)
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}

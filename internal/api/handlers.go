package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sagiegrun/echoes/internal/compile"
	"github.com/sagiegrun/echoes/internal/db"
	"github.com/sagiegrun/echoes/internal/jobs"
	"github.com/sagiegrun/echoes/internal/ledger"
	"github.com/sagiegrun/echoes/internal/models"
	"github.com/sagiegrun/echoes/internal/rewards"
	"github.com/sagiegrun/echoes/internal/storage"
)

type Handler struct {
	db       *db.DB
	storage  *storage.Storage
	tracker  *jobs.Tracker
	ledger   *ledger.Ledger
	rewards  *rewards.Engine
	compiler *compile.Coordinator
}

func NewHandler(database *db.DB, stor *storage.Storage, tracker *jobs.Tracker, creditLedger *ledger.Ledger, rewardsEngine *rewards.Engine, compiler *compile.Coordinator) *Handler {
	return &Handler{
		db:       database,
		storage:  stor,
		tracker:  tracker,
		ledger:   creditLedger,
		rewards:  rewardsEngine,
		compiler: compiler,
	}
}

// CreateAccount handles POST /v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	account := &models.Account{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		ReferralCode: newReferralCode(),
	}

	if err := h.db.CreateAccount(r.Context(), account); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	if req.ReferralCode != nil && *req.ReferralCode != "" {
		if _, err := h.rewards.RegisterReferral(r.Context(), *req.ReferralCode, account.ID); err != nil {
			switch {
			case errors.Is(err, rewards.ErrUnknownReferral),
				errors.Is(err, rewards.ErrSelfReferral),
				errors.Is(err, rewards.ErrAlreadyReferred):
				// Account creation still succeeded; report the referral
				// problem without failing the signup.
				respondJSON(w, http.StatusCreated, map[string]interface{}{
					"account":        account,
					"referral_error": err.Error(),
				})
			default:
				respondError(w, http.StatusInternalServerError, "Failed to register referral")
			}
			return
		}
	}

	respondJSON(w, http.StatusCreated, account)
}

// GetAccount handles GET /v1/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	account, err := h.db.GetAccount(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Account not found")
		return
	}

	respondJSON(w, http.StatusOK, account)
}

// GetBalance handles GET /v1/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Account not found")
		return
	}

	respondJSON(w, http.StatusOK, models.BalanceResponse{
		AccountID:     id,
		CreditBalance: balance,
	})
}

// GetLedgerHistory handles GET /v1/accounts/{id}/ledger
func (h *Handler) GetLedgerHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	entries, err := h.ledger.History(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load ledger history")
		return
	}

	respondJSON(w, http.StatusOK, models.LedgerHistoryResponse{
		AccountID: id,
		Entries:   entries,
	})
}

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if req.AccountID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "Account ID is required")
		return
	}

	if _, err := h.db.GetAccount(r.Context(), req.AccountID); err != nil {
		respondError(w, http.StatusNotFound, "Account not found")
		return
	}

	project := &models.Project{
		ID:        uuid.New(),
		AccountID: req.AccountID,
		Title:     req.Title,
		Status:    models.ProjectStatusDraft,
	}

	if err := h.db.CreateProject(r.Context(), project); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	respondJSON(w, http.StatusCreated, project)
}

// ListProjects handles GET /v1/projects?account_id=&status=&limit=&offset=
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "account_id query parameter is required")
		return
	}

	status := r.URL.Query().Get("status")

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	projects, err := h.db.ListProjects(r.Context(), accountID, status, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.db.GetProject(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}

	clips, err := h.db.GetProjectClips(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load clips")
		return
	}

	response := models.ProjectResponse{Project: *project}
	for i := range clips {
		response.Clips = append(response.Clips, h.buildClipResponse(&clips[i]))
	}

	respondJSON(w, http.StatusOK, response)
}

// CreateClip handles POST /v1/projects/{id}/clips
func (h *Handler) CreateClip(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	var req models.CreateClipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ImagePath == "" {
		respondError(w, http.StatusBadRequest, "Image path is required")
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	project, err := h.db.GetProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}

	clip, err := h.tracker.SubmitClip(r.Context(), project, req.ImagePath, req.Prompt)
	if err != nil {
		if errors.Is(err, jobs.ErrInsufficientBalance) {
			respondError(w, http.StatusPaymentRequired, "Insufficient credit balance")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to submit clip")
		return
	}

	respondJSON(w, http.StatusCreated, h.buildClipResponse(clip))
}

// GetClip handles GET /v1/clips/{id}
func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid clip ID")
		return
	}

	clip, err := h.db.GetClip(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load clip")
		return
	}
	if clip == nil {
		respondError(w, http.StatusNotFound, "Clip not found")
		return
	}

	respondJSON(w, http.StatusOK, h.buildClipResponse(clip))
}

// RetryClip handles POST /v1/clips/{id}/retry
func (h *Handler) RetryClip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid clip ID")
		return
	}

	clip, err := h.tracker.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			respondError(w, http.StatusNotFound, "Clip not found")
		case errors.Is(err, jobs.ErrNotRetryable):
			respondError(w, http.StatusConflict, "Only failed clips can be retried")
		case errors.Is(err, jobs.ErrInsufficientBalance):
			respondError(w, http.StatusPaymentRequired, "Insufficient credit balance")
		default:
			respondError(w, http.StatusInternalServerError, "Failed to retry clip")
		}
		return
	}

	respondJSON(w, http.StatusCreated, h.buildClipResponse(clip))
}

// SignUpload handles POST /v1/uploads/sign
func (h *Handler) SignUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID uuid.UUID `json:"account_id"`
		Filename  string    `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == uuid.Nil || req.Filename == "" {
		respondError(w, http.StatusBadRequest, "Account ID and filename are required")
		return
	}

	if _, err := h.db.GetAccount(r.Context(), req.AccountID); err != nil {
		respondError(w, http.StatusNotFound, "Account not found")
		return
	}

	path := h.storage.GeneratePath(req.AccountID, req.Filename)
	signedURL, err := h.storage.CreateSignedUploadURL(r.Context(), path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create upload URL")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"path":       path,
		"upload_url": signedURL,
	})
}

// PaymentWebhook handles POST /v1/webhooks/payment. The payment
// collaborator retries deliveries, so the same webhook can arrive many
// times; the ledger's idempotency key collapses replays to one credit.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var payload models.PaymentWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	if payload.ReferenceID == "" {
		respondError(w, http.StatusBadRequest, "Reference ID is required")
		return
	}
	if payload.Credits <= 0 {
		respondError(w, http.StatusBadRequest, "Credits must be positive")
		return
	}

	account, err := h.db.GetAccountByEmail(r.Context(), strings.ToLower(payload.Email))
	if err != nil {
		respondError(w, http.StatusNotFound, "Account not found")
		return
	}

	balance, err := h.ledger.Apply(r.Context(), account.ID, payload.Credits, models.EntryKindPurchase, payload.ReferenceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to apply purchase")
		return
	}

	// Referral rewards ride on first purchase. Failure here must not
	// bounce the webhook — the purchase is already committed.
	if err := h.rewards.OnPurchase(r.Context(), account.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Purchase applied but referral reward failed")
		return
	}

	respondJSON(w, http.StatusOK, models.BalanceResponse{
		AccountID:     account.ID,
		CreditBalance: balance,
	})
}

// SubmitShare handles POST /v1/shares
func (h *Handler) SubmitShare(w http.ResponseWriter, r *http.Request) {
	var req models.CreateShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == uuid.Nil || req.PostURL == "" {
		respondError(w, http.StatusBadRequest, "Account ID and post URL are required")
		return
	}

	if _, err := h.db.GetAccount(r.Context(), req.AccountID); err != nil {
		respondError(w, http.StatusNotFound, "Account not found")
		return
	}

	share, err := h.rewards.SubmitShare(r.Context(), req.AccountID, req.PostURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to submit share")
		return
	}

	respondJSON(w, http.StatusCreated, share)
}

// ApproveShare handles POST /v1/admin/shares/{id}/approve
func (h *Handler) ApproveShare(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid share ID")
		return
	}

	approved, err := h.rewards.ApproveShare(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to approve share")
		return
	}
	if !approved {
		respondError(w, http.StatusConflict, "Share is not pending")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectShare handles POST /v1/admin/shares/{id}/reject
func (h *Handler) RejectShare(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid share ID")
		return
	}

	rejected, err := h.rewards.RejectShare(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reject share")
		return
	}
	if !rejected {
		respondError(w, http.StatusConflict, "Share is not pending")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// CreateCompilation handles POST /v1/compilations
func (h *Handler) CreateCompilation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCompilationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "Account ID is required")
		return
	}

	fv, err := h.compiler.Create(r.Context(), req.AccountID, req.ClipIDs, req.MusicPath, req.Transition)
	if err != nil {
		if errors.Is(err, compile.ErrValidation) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to create compilation")
		return
	}

	respondJSON(w, http.StatusCreated, h.buildFinalVideoResponse(fv))
}

// GetCompilation handles GET /v1/compilations/{id}
func (h *Handler) GetCompilation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid compilation ID")
		return
	}

	fv, err := h.db.GetFinalVideo(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load compilation")
		return
	}
	if fv == nil {
		respondError(w, http.StatusNotFound, "Compilation not found")
		return
	}

	respondJSON(w, http.StatusOK, h.buildFinalVideoResponse(fv))
}

// DownloadCompilation handles GET /v1/compilations/{id}/download
func (h *Handler) DownloadCompilation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid compilation ID")
		return
	}

	fv, err := h.db.GetFinalVideo(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load compilation")
		return
	}
	if fv == nil {
		respondError(w, http.StatusNotFound, "Compilation not found")
		return
	}

	if fv.Status != models.FinalVideoStatusCompleted || fv.OutputPath == nil {
		respondError(w, http.StatusConflict, "Compilation is not completed yet")
		return
	}

	data, err := h.storage.Download(r.Context(), *fv.OutputPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to download video")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="echoes_%s.mp4"`, id.String()[:8]))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) buildClipResponse(clip *models.Clip) models.ClipStatusResponse {
	progress, eta := jobs.Progress(clip, time.Now())

	resp := models.ClipStatusResponse{
		ID:                  clip.ID,
		Status:              clip.Status,
		Progress:            progress,
		EstimatedSecondsETA: eta,
		ErrorMessage:        clip.ErrorMessage,
		AttemptCount:        clip.AttemptCount,
		CreatedAt:           clip.CreatedAt,
		CompletedAt:         clip.CompletedAt,
	}

	if clip.VideoPath != nil {
		url := h.storage.GetPublicURL(*clip.VideoPath)
		resp.VideoURL = &url
	}

	return resp
}

func (h *Handler) buildFinalVideoResponse(fv *models.FinalVideo) models.FinalVideoResponse {
	resp := models.FinalVideoResponse{
		ID:           fv.ID,
		Status:       fv.Status,
		ErrorMessage: fv.ErrorMessage,
		CreatedAt:    fv.CreatedAt,
		CompletedAt:  fv.CompletedAt,
	}

	if fv.OutputPath != nil {
		url := h.storage.GetPublicURL(*fv.OutputPath)
		resp.OutputURL = &url
	}

	return resp
}

// newReferralCode returns a short, shareable code. Collisions are caught
// by the unique index on accounts.referral_code.
func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

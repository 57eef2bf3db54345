// Package handlers implements the thin chi handlers backing the
// upward-facing operations - sync, analysis, recommendation and addon
// validation - plus the Operator bearer-token auth flow that gates them.
// Each handler parses the request, calls exactly one domain-package
// method, and maps the result/error onto the HTTP surface; none of the
// actual sync/scoring/recommendation logic lives here.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/savegress/optimizer/backend/internal/analysis"
	"github.com/savegress/optimizer/backend/internal/auth"
	"github.com/savegress/optimizer/backend/internal/commerce"
	"github.com/savegress/optimizer/backend/internal/directorysync"
	"github.com/savegress/optimizer/backend/internal/httpclient"
	"github.com/savegress/optimizer/backend/internal/middleware"
	"github.com/savegress/optimizer/backend/internal/repository"
	"github.com/savegress/optimizer/backend/internal/skuregistry"
	"github.com/savegress/optimizer/backend/internal/syncguard"
)

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondSuccess(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, data)
}

func respondCreated(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusCreated, data)
}

// apiError maps domain errors onto an HTTP status. It is the single place
// that translates sentinel errors into status codes, since every operation
// here shares the same taxonomy.
func apiError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, syncguard.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, "operation already running")
	case errors.Is(err, directorysync.ErrInvalidPeriod):
		respondError(w, http.StatusBadRequest, "invalid usage period")
	case errors.Is(err, analysis.ErrTenantNotActive):
		respondError(w, http.StatusConflict, "tenant is not active")
	case errors.Is(err, analysis.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "recommendation is not pending")
	case errors.Is(err, analysis.ErrUnknownAction):
		respondError(w, http.StatusBadRequest, "unknown action")
	case errors.Is(err, analysis.ErrNoUsers):
		respondError(w, http.StatusUnprocessableEntity, "tenant has no users to analyze")
	case errors.Is(err, directorysync.ErrInvalidCredentials), errors.Is(err, commerce.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "upstream credentials rejected")
	default:
		var httpErr *httpclient.Error
		if errors.As(err, &httpErr) {
			switch httpErr.Kind {
			case httpclient.KindRateLimited:
				respondError(w, http.StatusServiceUnavailable, "upstream rate limited, try again later")
				return
			case httpclient.KindTransient:
				respondError(w, http.StatusBadGateway, "upstream request failed")
				return
			case httpclient.KindUnauthorized:
				respondError(w, http.StatusUnauthorized, "upstream credentials rejected")
				return
			}
		}
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func tenantIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "tenantID"))
}

// SyncHandler wires the three directory sync operations to
// internal/directorysync.
type SyncHandler struct {
	directory *directorysync.Service
}

func NewSyncHandler(directory *directorysync.Service) *SyncHandler {
	return &SyncHandler{directory: directory}
}

func (h *SyncHandler) SyncUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	stats, err := h.directory.SyncUsers(r.Context(), tenantID)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

func (h *SyncHandler) SyncLicenses(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	stats, err := h.directory.SyncLicenses(r.Context(), tenantID)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

func (h *SyncHandler) SyncUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "D28"
	}
	stats, err := h.directory.SyncUsage(r.Context(), tenantID, period)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

// CommerceHandler wires sync_products/sync_prices/import_price_csv to
// internal/commerce. Commerce credentials are shared process-wide, so
// unlike SyncHandler none of these take a tenant id.
type CommerceHandler struct {
	commerce *commerce.Service
}

func NewCommerceHandler(svc *commerce.Service) *CommerceHandler {
	return &CommerceHandler{commerce: svc}
}

func (h *CommerceHandler) SyncProducts(w http.ResponseWriter, r *http.Request) {
	stats, err := h.commerce.SyncProducts(r.Context())
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

func (h *CommerceHandler) SyncPrices(w http.ResponseWriter, r *http.Request) {
	stats, err := h.commerce.SyncPrices(r.Context())
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

// ImportPriceCSV accepts a multipart/form-data upload under field "file"
// and ingests it as a bulk price CSV.
func (h *CommerceHandler) ImportPriceCSV(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	rows, err := httpclient.ParseCSV(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed csv")
		return
	}

	stats, err := h.commerce.ImportPriceCSV(r.Context(), rows)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

// ImportPriceCSVStaged ingests a bulk price CSV a partner has already
// staged to the commerce CSV bucket, identified by object key, instead of
// uploading it inline.
func (h *CommerceHandler) ImportPriceCSVStaged(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		respondError(w, http.StatusBadRequest, "missing key field")
		return
	}

	stats, err := h.commerce.ImportPriceCSVFromStaging(r.Context(), body.Key)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, stats)
}

// AnalysisHandler wires run_analysis/list_analyses/get_analysis/
// apply_recommendation to internal/analysis.
type AnalysisHandler struct {
	orchestrator *analysis.Orchestrator
}

func NewAnalysisHandler(o *analysis.Orchestrator) *AnalysisHandler {
	return &AnalysisHandler{orchestrator: o}
}

func (h *AnalysisHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	a, err := h.orchestrator.RunAnalysis(r.Context(), tenantID)
	if err != nil {
		apiError(w, err)
		return
	}
	respondCreated(w, a)
}

func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	list, err := h.orchestrator.ListAnalyses(r.Context(), tenantID)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, list)
}

func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}
	a, recs, err := h.orchestrator.GetAnalysis(r.Context(), id)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, map[string]interface{}{"analysis": a, "recommendations": recs})
}

type applyRecommendationRequest struct {
	Action string `json:"action"`
}

func (h *AnalysisHandler) ApplyRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid recommendation id")
		return
	}
	var req applyRecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := h.orchestrator.Apply(r.Context(), id, req.Action)
	if err != nil {
		apiError(w, err)
		return
	}
	respondSuccess(w, rec)
}

// SkuRegistryHandler wires validate_addon to internal/skuregistry.
type SkuRegistryHandler struct {
	registry *skuregistry.Registry
}

func NewSkuRegistryHandler(registry *skuregistry.Registry) *SkuRegistryHandler {
	return &SkuRegistryHandler{registry: registry}
}

type validateAddonRequest struct {
	BaseSkuID      string   `json:"base_sku_id"`
	AddonSkuID     string   `json:"addon_sku_id"`
	Quantity       int      `json:"quantity"`
	ExistingAddons []string `json:"existing_addons,omitempty"`
}

func (h *SkuRegistryHandler) ValidateAddon(w http.ResponseWriter, r *http.Request) {
	var req validateAddonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	report := h.registry.ValidateAddon(req.BaseSkuID, req.AddonSkuID, req.Quantity, time.Now().UTC(), req.ExistingAddons)
	respondSuccess(w, report)
}

// AuthHandler wires the Operator bearer-token session flow (login and
// refresh) that the admin API's middleware depends on.
type AuthHandler struct {
	auth *auth.Service
}

func NewAuthHandler(a *auth.Service) *AuthHandler {
	return &AuthHandler{auth: a}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	op, tokens, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondSuccess(w, map[string]interface{}{"operator": op, "tokens": tokens})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	tokens, err := h.auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	respondSuccess(w, tokens)
}

type requestPasswordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset always responds 200 regardless of whether email
// matched an account, so it never reveals account existence through the
// HTTP surface. The issued token is not part of the response, and this
// handler does not send it anywhere either: it discards the token the
// auth service returns.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req requestPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondSuccess(w, map[string]string{"status": "if the account exists, a reset token has been issued"})
}

type resetPasswordRequest struct {
	OperatorID  string `json:"operator_id"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	operatorID, err := uuid.Parse(req.OperatorID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid operator id")
		return
	}
	if err := h.auth.ResetPassword(r.Context(), operatorID, req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrResetTokenExpired), errors.Is(err, auth.ErrResetTokenUsed):
			respondError(w, http.StatusBadRequest, "invalid or expired reset token")
		default:
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	respondSuccess(w, map[string]string{"status": "password updated"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	respondSuccess(w, claims)
}

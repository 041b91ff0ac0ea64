package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medicrypt/medicrypt/internal/application"
	"github.com/medicrypt/medicrypt/internal/domain"
)

// maxUploadBytes caps the multipart body of a record upload.
const maxUploadBytes = 32 << 20

type contextKey string

const identityKey contextKey = "identity"

type Handler struct {
	service *application.RecordService
}

func NewRouter(service *application.RecordService) http.Handler {
	h := &Handler{service: service}
	r := chi.NewRouter()

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", h.handleLogin)
		api.With(h.requireAuth).Get("/auth/whoami", h.handleWhoAmI)

		api.With(h.requireAuth).Post("/records", h.handleUploadRecord)
		api.With(h.requireAuth).Get("/records", h.handleListRecords)
		api.With(h.requireAuth).Get("/records/{id}", h.handleGetRecord)
		api.With(h.requireAuth).Get("/records/{id}/content", h.handleGetRecordContent)

		api.With(h.requireAuth).Post("/access/requests", h.handleRequestAccess)
		api.With(h.requireAuth).Get("/access/requests", h.handleListAccessRequests)
		api.With(h.requireAuth).Post("/access/requests/{id}/respond", h.handleRespond)
		api.With(h.requireAuth).Post("/access/requests/{id}/revoke", h.handleRevoke)
		api.With(h.requireAuth).Post("/access/requests/{id}/reopen", h.handleReopen)

		api.With(h.requireAuth).Get("/ledger/pointer", h.handleLatestPointer)
		api.With(h.requireAuth).Get("/audit", h.handleAuditTrail)
	})

	return r
}

type loginRequest struct {
	Wallet    string `json:"wallet"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Contact   string `json:"contact"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	user, token, err := h.service.Login(r.Context(), application.LoginInput{
		Wallet:    req.Wallet,
		Message:   req.Message,
		Signature: req.Signature,
		Role:      req.Role,
		Name:      req.Name,
		Email:     req.Email,
		Contact:   req.Contact,
	})
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userView(user), "token": token})
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, userView(identity.User))
}

func (h *Handler) handleUploadRecord(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing file part"})
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "read upload"})
		return
	}

	result, err := h.service.UploadRecord(r.Context(), identity, header.Filename, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"record": recordView(result.Record),
		"key":    hex.EncodeToString(result.Key),
		"ledger": receiptView(result.Ledger),
	})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	records, err := h.service.ListMyRecords(r.Context(), identity, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(records))
	for _, record := range records {
		views = append(views, recordView(record))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	record, err := h.service.GetRecord(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordView(record))
}

// handleGetRecordContent streams the sealed envelope as-is. The server
// never holds a record key, so decryption is the caller's job.
func (h *Handler) handleGetRecordContent(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	record, payload, err := h.service.GetRecordContent(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type requestAccessRequest struct {
	RecordID      string `json:"record_id"`
	PatientWallet string `json:"patient_wallet"`
}

func (h *Handler) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req requestAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	request, receipt, err := h.service.RequestAccess(r.Context(), identity, req.PatientWallet, req.RecordID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request": requestView(request),
		"ledger":  receiptView(receipt),
	})
}

func (h *Handler) handleListAccessRequests(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	details, err := h.service.ListAccessRequests(r.Context(), identity, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(details))
	for _, detail := range details {
		views = append(views, detailView(detail))
	}
	writeJSON(w, http.StatusOK, views)
}

type respondRequest struct {
	Decision string `json:"decision"`
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	updated, receipt, err := h.service.RespondToAccessRequest(r.Context(), identity, chi.URLParam(r, "id"), decision)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request": requestView(updated),
		"ledger":  receiptView(receipt),
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	updated, err := h.service.Revoke(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestView(updated))
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	updated, err := h.service.RevertToPending(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestView(updated))
}

func (h *Handler) handleLatestPointer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	pointer, err := h.service.LatestPointer(r.Context(), identity)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": identity.User.WalletAddress, "cid": pointer})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	logs, err := h.service.AuditTrail(r.Context(), identity, queryLimit(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		identity, err := h.service.ResolveIdentity(r.Context(), strings.TrimSpace(authHeader[7:]))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	value := ctx.Value(identityKey)
	if value == nil {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

// writeServiceError maps domain error types onto HTTP statuses. Ledger
// receipts never travel through here; they ride in response bodies.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case domain.IsRole(err), domain.IsForbidden(err):
		status = http.StatusForbidden
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsInvalidState(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func userView(u domain.User) map[string]any {
	return map[string]any{
		"id":     u.ID,
		"wallet": u.WalletAddress,
		"role":   u.Role,
		"name":   u.Name,
		"email":  u.Email,
	}
}

func recordView(m domain.MedicalRecord) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"patient_id": m.PatientID,
		"cid":        m.CID,
		"file_name":  m.FileName,
		"created_at": m.CreatedAt,
	}
}

func requestView(a domain.AccessRequest) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"record_id":    a.MedicalRecordID,
		"requester_id": a.RequesterID,
		"status":       a.Status,
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
	}
}

func detailView(d domain.AccessRequestDetail) map[string]any {
	view := requestView(d.AccessRequest)
	view["record"] = recordView(d.Record)
	return view
}

// receiptView reports the ledger outcome alongside the local one; a
// failed chain call is data, not an HTTP error.
func receiptView(receipt domain.LedgerReceipt) map[string]any {
	view := map[string]any{"tx_hash": receipt.TxHash}
	if receipt.Err != nil {
		view["error"] = receipt.Err.Error()
	}
	return view
}

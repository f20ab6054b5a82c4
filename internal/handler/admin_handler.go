package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pixelbay/internal/domain"
	"pixelbay/internal/service"
)

const adminTokenHeader = "x-admin-token"

// AdminHandler — административная поверхность: управление владельцами,
// их лимитами и режимом поддоменов. Доступ по привилегированному токену
// из конфигурации; захардкоженных обходных ключей нет.
type AdminHandler struct {
	identityService *service.IdentityService
	uploadService   *service.UploadService
	resolverService *service.ResolverService
	adminToken      string
}

func NewAdminHandler(
	identityService *service.IdentityService,
	uploadService *service.UploadService,
	resolverService *service.ResolverService,
	adminToken string,
) *AdminHandler {
	return &AdminHandler{
		identityService: identityService,
		uploadService:   uploadService,
		resolverService: resolverService,
		adminToken:      adminToken,
	}
}

// Middleware отклоняет запросы без корректного административного токена.
// При пустом токене в конфигурации поверхность полностью выключена.
func (h *AdminHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		provided := r.Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.adminToken)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type registerRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *AdminHandler) RegisterOwner(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	owner, err := h.identityService.Register(r.Context(), req.Handle, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidHandle), errors.Is(err, service.ErrBadCredential):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrHandleTaken):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("[Admin] registration failed: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(owner)
}

func (h *AdminHandler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.identityService.List(r.Context())
	if err != nil {
		log.Printf("[Admin] list owners failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(owners)
}

type limitsRequest struct {
	DailyLimit  int `json:"daily_limit"`
	HourlyLimit int `json:"hourly_limit"`
}

func (h *AdminHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req limitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.identityService.UpdateLimits(r.Context(), id, req.DailyLimit, req.HourlyLimit); err != nil {
		h.writeOwnerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type suspendRequest struct {
	Suspended bool `json:"suspended"`
}

func (h *AdminHandler) SetSuspended(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var req suspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.identityService.SetSuspended(r.Context(), id, req.Suspended); err != nil {
		h.writeOwnerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ResetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	token, err := h.identityService.ResetToken(r.Context(), id)
	if err != nil {
		h.writeOwnerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token.String()})
}

func (h *AdminHandler) UpdateWatermark(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	var spec domain.WatermarkSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.identityService.UpdateWatermark(r.Context(), id, spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOwnerAssets возвращает записи файлов владельца
func (h *AdminHandler) ListOwnerAssets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	assets, err := h.uploadService.Assets(r.Context(), id)
	if err != nil {
		log.Printf("[Admin] list assets failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []domain.StoredAsset{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assets)
}

func (h *AdminHandler) DeleteOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	if err := h.identityService.Delete(r.Context(), id); err != nil {
		h.writeOwnerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetSubdomainMode(w http.ResponseWriter, r *http.Request) {
	mode, err := h.resolverService.Mode(r.Context())
	if err != nil {
		log.Printf("[Admin] get subdomain mode failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	overrides, err := h.resolverService.ListOverrides(r.Context())
	if err != nil {
		log.Printf("[Admin] list overrides failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if overrides == nil {
		overrides = []uuid.UUID{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.SubdomainSettings{Mode: mode, Overrides: overrides})
}

type subdomainModeRequest struct {
	Mode string `json:"mode"`
}

func (h *AdminHandler) SetSubdomainMode(w http.ResponseWriter, r *http.Request) {
	var req subdomainModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.resolverService.SetMode(r.Context(), req.Mode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) AddSubdomainOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	if err := h.resolverService.AddOverride(r.Context(), id); err != nil {
		log.Printf("[Admin] add override failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) RemoveSubdomainOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	if err := h.resolverService.RemoveOverride(r.Context(), id); err != nil {
		log.Printf("[Admin] remove override failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid owner ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *AdminHandler) writeOwnerError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrOwnerNotFound) {
		http.Error(w, "Owner not found", http.StatusNotFound)
		return
	}
	log.Printf("[Admin] operation failed: %v", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

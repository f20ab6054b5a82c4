package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pixelbay/internal/service"
)

// Год неизменяемого кэша: имена файлов уникальны и не переиспользуются
const cacheControl = "public, max-age=31536000, immutable"

type FileHandler struct {
	identityService *service.IdentityService
	uploadService   *service.UploadService
	resolverService *service.ResolverService
}

func NewFileHandler(
	identityService *service.IdentityService,
	uploadService *service.UploadService,
	resolverService *service.ResolverService,
) *FileHandler {
	return &FileHandler{
		identityService: identityService,
		uploadService:   uploadService,
		resolverService: resolverService,
	}
}

// Serve обрабатывает GET /i/{filename} как на каноническом хосте, так и
// на поддоменах тенантов: tenant.example.com/i/abc.png отдает файл только
// из директории tenant и только при разрешенном поддоменном доступе
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	var (
		resolved *service.ResolvedFile
		err      error
	)

	if label := h.resolverService.TenantLabel(r.Host); label != "" {
		resolved, err = h.resolverService.ResolveTenant(r.Context(), label, filename)
	} else {
		resolved, err = h.resolverService.ResolvePath(r.Context(), filename)
	}

	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidFilename):
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		case errors.Is(err, service.ErrNotFound):
			// Выключенный поддомен и отсутствующий файл неразличимы
			http.Error(w, "Not found", http.StatusNotFound)
		default:
			log.Printf("[Files] resolve failed for %q on %q: %v", filename, r.Host, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", resolved.ContentType)
	w.Header().Set("Cache-Control", cacheControl)
	http.ServeFile(w, r, resolved.Path)
}

// Delete обрабатывает DELETE /i/{filename}: файл удаляется, только если
// принадлежит вызывающему владельцу
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(apiKeyHeader)
	if token == "" {
		http.Error(w, "API key required", http.StatusUnauthorized)
		return
	}

	identity, err := h.identityService.Resolve(r.Context(), token, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownToken):
			http.Error(w, "Invalid API key", http.StatusForbidden)
		case errors.Is(err, service.ErrSuspended):
			http.Error(w, "Account suspended", http.StatusForbidden)
		default:
			log.Printf("[Files] identity resolution failed: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	filename := chi.URLParam(r, "filename")
	if err := h.uploadService.Delete(r.Context(), identity, filename); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidFilename):
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrAccessDenied):
			// Чужие файлы неотличимы от несуществующих
			http.Error(w, "Not found", http.StatusNotFound)
		default:
			log.Printf("[Files] delete failed for %q: %v", filename, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

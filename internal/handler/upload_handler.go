package handler

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"pixelbay/internal/ratelimit"
	"pixelbay/internal/service"
)

// Заголовок с токеном API
const apiKeyHeader = "x-api-key"

type UploadHandler struct {
	identityService *service.IdentityService
	uploadService   *service.UploadService
}

func NewUploadHandler(identityService *service.IdentityService, uploadService *service.UploadService) *UploadHandler {
	return &UploadHandler{
		identityService: identityService,
		uploadService:   uploadService,
	}
}

// Upload обрабатывает POST /api/upload: multipart-поле image,
// необязательный заголовок x-api-key. Успех — 200 с абсолютным URL файла
// простым текстом.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identityService.Resolve(r.Context(), r.Header.Get(apiKeyHeader), clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownToken):
			// Ключ передан, но не опознан: не принимаем файл как анонимный
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
		case errors.Is(err, service.ErrSuspended):
			http.Error(w, "Account suspended", http.StatusForbidden)
		default:
			log.Printf("[Upload] identity resolution failed: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, res, err := h.uploadService.Upload(r.Context(), identity, file, header)
	if res != nil {
		writeRateLimitHeaders(w, *res)
	}
	if err != nil {
		var quotaErr *service.QuotaExceededError
		switch {
		case errors.As(err, &quotaErr):
			writeRateLimited(w, quotaErr.Result)
		case errors.Is(err, service.ErrNoFile), errors.Is(err, service.ErrNotImage):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrFileTooLarge):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			log.Printf("[Upload] upload failed: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, url)
}

func writeRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func writeRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	retryAfter := res.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	http.Error(w,
		fmt.Sprintf("Rate limit exceeded, retry after %d seconds (retryAfter=%d)", retryAfter, retryAfter),
		http.StatusTooManyRequests)
}

// clientIP выделяет адрес клиента с учетом обратного прокси
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// Первый адрес в списке — исходный клиент
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

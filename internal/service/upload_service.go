package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pixelbay/internal/domain"
	"pixelbay/internal/ratelimit"
	"pixelbay/internal/storage"
	"pixelbay/internal/watermark"
)

var (
	ErrNoFile       = errors.New("no file provided")
	ErrNotImage     = errors.New("file is not an image")
	ErrFileTooLarge = errors.New("file size exceeds maximum allowed size")
	ErrAccessDenied = errors.New("access denied")
)

// QuotaExceededError несет метаданные окна для заголовков 429
type QuotaExceededError struct {
	Result ratelimit.Result
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.Result.RetryAfterSeconds())
}

// Расширение хранимого файла определяется по распознанному типу
// содержимого, никогда по имени файла клиента
var extByMIME = map[string]string{
	"image/png":    ".png",
	"image/jpeg":   ".jpg",
	"image/gif":    ".gif",
	"image/webp":   ".webp",
	"image/bmp":    ".bmp",
	"image/tiff":   ".tiff",
	"image/x-icon": ".ico",
}

// AssetStore — хранилище записей о загруженных файлах
type AssetStore interface {
	Create(ctx context.Context, asset *domain.StoredAsset) error
	GetByFilename(ctx context.Context, ownerID *uuid.UUID, filename string) (*domain.StoredAsset, error)
	Delete(ctx context.Context, id int64) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.StoredAsset, error)
}

// Limiters — два независимых пространства счетчиков: анонимный трафик
// считается по IP в коротком окне, авторизованный — по владельцу в
// суточном, плюс необязательное почасовое окно владельца
type Limiters struct {
	Anonymous     *ratelimit.Limiter
	Authenticated *ratelimit.Limiter
	OwnerHourly   *ratelimit.Limiter
}

// UploadService — оркестратор загрузки: валидация, лимиты, выбор
// директории, имя, сохранение, водяной знак, учет, итоговый URL
type UploadService struct {
	assets   AssetStore
	owners   OwnerStore
	disk     *storage.Disk
	resolver *ResolverService
	worker   *watermark.Worker
	limiters Limiters
	domain   string
	secure   bool
	maxSize  int64
}

func NewUploadService(
	assets AssetStore,
	owners OwnerStore,
	disk *storage.Disk,
	resolver *ResolverService,
	worker *watermark.Worker,
	limiters Limiters,
	domain string,
	secure bool,
	maxSize int64,
) *UploadService {
	return &UploadService{
		assets:   assets,
		owners:   owners,
		disk:     disk,
		resolver: resolver,
		worker:   worker,
		limiters: limiters,
		domain:   domain,
		secure:   secure,
		maxSize:  maxSize,
	}
}

// Upload проводит файл через весь конвейер и возвращает внешний URL.
// Результат лимитера возвращается и при успехе — для заголовков ответа.
func (s *UploadService) Upload(ctx context.Context, identity domain.Identity, file multipart.File, header *multipart.FileHeader) (string, *ratelimit.Result, error) {
	if file == nil || header == nil {
		return "", nil, ErrNoFile
	}
	if header.Size > s.maxSize {
		return "", nil, fmt.Errorf("%w: max size is %d bytes", ErrFileTooLarge, s.maxSize)
	}

	// Тип определяем по содержимому, заголовку клиента не доверяем
	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	mimeType := http.DetectContentType(sniff[:n])
	ext, ok := extByMIME[mimeType]
	if !ok || !strings.HasPrefix(mimeType, "image/") {
		return "", nil, fmt.Errorf("%w: detected %s", ErrNotImage, mimeType)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", nil, fmt.Errorf("failed to rewind upload: %w", err)
	}

	res, err := s.allowRequest(ctx, identity)
	if err != nil {
		return "", res, err
	}

	dirName := storage.AnonymousDir
	if !identity.Anonymous() {
		dirName = identity.Owner.DirName()
	}
	dir := s.disk.DirFor(dirName)

	name, err := storage.Allocate(dir, ext)
	if err != nil {
		return "", res, fmt.Errorf("failed to allocate filename: %w", err)
	}

	size, err := s.persist(ctx, identity, dir, name, file)
	if err != nil {
		// Неудачная загрузка не оставляет файла под зарезервированным именем
		if rmErr := s.disk.Remove(dir, name); rmErr != nil && !errors.Is(rmErr, storage.ErrNotFound) {
			log.Printf("[Upload] failed to clean up %s/%s: %v", dirName, name, rmErr)
		}
		return "", res, err
	}

	asset := &domain.StoredAsset{
		Filename:  name,
		SizeBytes: size,
		MIMEType:  mimeType,
	}
	if !identity.Anonymous() {
		id := identity.Owner.ID
		asset.OwnerID = &id
	}
	if err := s.assets.Create(ctx, asset); err != nil {
		if rmErr := s.disk.Remove(dir, name); rmErr != nil {
			log.Printf("[Upload] failed to clean up %s/%s: %v", dirName, name, rmErr)
		}
		return "", res, fmt.Errorf("failed to record asset: %w", err)
	}

	if !identity.Anonymous() {
		// Учет использования не блокирует уже принятую загрузку
		if err := s.owners.RecordUsage(ctx, identity.Owner.ID); err != nil {
			log.Printf("[Upload] failed to record usage for %s: %v", identity.Owner.Handle, err)
		}

		spec := identity.Owner.WatermarkSpec
		if spec.Enabled && spec.Async {
			s.worker.Enqueue(watermark.Job{
				Path: filepath.Join(dir, name),
				Spec: spec,
			})
		}
	}

	return s.urlFor(ctx, identity, name), res, nil
}

// allowRequest прогоняет запрос через лимитеры соответствующей политики
func (s *UploadService) allowRequest(ctx context.Context, identity domain.Identity) (*ratelimit.Result, error) {
	var res ratelimit.Result

	if identity.Anonymous() {
		res = s.limiters.Anonymous.Allow(ctx, identity.RateKey(), 0)
	} else {
		res = s.limiters.Authenticated.Allow(ctx, identity.RateKey(), identity.Owner.DailyLimit)
		if res.Allowed && identity.Owner.HourlyLimit > 0 && s.limiters.OwnerHourly != nil {
			hourly := s.limiters.OwnerHourly.Allow(ctx, identity.RateKey(), identity.Owner.HourlyLimit)
			if !hourly.Allowed {
				res = hourly
			}
		}
	}

	if !res.Allowed {
		return &res, &QuotaExceededError{Result: res}
	}
	return &res, nil
}

// persist записывает байты на диск; синхронный водяной знак
// проставляется до записи, так что ответ ссылается на готовый файл
func (s *UploadService) persist(ctx context.Context, identity domain.Identity, dir, name string, file multipart.File) (int64, error) {
	syncWatermark := !identity.Anonymous() &&
		identity.Owner.Enabled && !identity.Owner.Async

	limited := io.LimitReader(file, s.maxSize+1)

	if syncWatermark {
		data, err := io.ReadAll(limited)
		if err != nil {
			return 0, fmt.Errorf("failed to read upload data: %w", err)
		}
		if int64(len(data)) > s.maxSize {
			return 0, fmt.Errorf("%w: max size is %d bytes", ErrFileTooLarge, s.maxSize)
		}
		data = watermark.Apply(data, identity.Owner.WatermarkSpec)
		return s.disk.WriteAtomic(dir, name, bytes.NewReader(data))
	}

	size, err := s.disk.WriteAtomic(dir, name, limited)
	if err != nil {
		return 0, err
	}
	if size > s.maxSize {
		return 0, fmt.Errorf("%w: max size is %d bytes", ErrFileTooLarge, s.maxSize)
	}
	return size, nil
}

// urlFor строит внешний URL: поддоменный, если владельцу сейчас разрешены
// поддоменные ссылки, иначе путевой под каноническим хостом
func (s *UploadService) urlFor(ctx context.Context, identity domain.Identity, name string) string {
	scheme := "http"
	if s.secure {
		scheme = "https"
	}

	if !identity.Anonymous() {
		allowed, err := s.resolver.SubdomainAllowed(ctx, identity.Owner.ID)
		if err != nil {
			log.Printf("[Upload] subdomain check failed for %s: %v", identity.Owner.Handle, err)
		} else if allowed {
			return fmt.Sprintf("%s://%s.%s/i/%s", scheme, identity.Owner.DirName(), s.domain, name)
		}
	}

	return fmt.Sprintf("%s://%s/i/%s", scheme, s.domain, name)
}

// Assets возвращает записи файлов владельца, новые первыми
func (s *UploadService) Assets(ctx context.Context, ownerID uuid.UUID) ([]domain.StoredAsset, error) {
	return s.assets.ListByOwner(ctx, ownerID)
}

// Delete удаляет файл владельца. Анонимные клиенты не могут доказать
// владение и удалять не могут.
func (s *UploadService) Delete(ctx context.Context, identity domain.Identity, filename string) error {
	if err := storage.SanitizeFilename(filename); err != nil {
		return ErrInvalidFilename
	}
	if identity.Anonymous() {
		return ErrAccessDenied
	}

	ownerID := identity.Owner.ID
	asset, err := s.assets.GetByFilename(ctx, &ownerID, filename)
	if err != nil {
		return err
	}
	if asset == nil {
		return ErrNotFound
	}

	if err := s.assets.Delete(ctx, asset.ID); err != nil {
		return err
	}

	dir := s.disk.DirFor(identity.Owner.DirName())
	if err := s.disk.Remove(dir, filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("asset record removed, but file cleanup failed: %w", err)
	}

	log.Printf("[Upload] deleted %s/%s", identity.Owner.DirName(), filename)
	return nil
}

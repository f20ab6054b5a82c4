package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"

	"pixelbay/internal/domain"
	"pixelbay/internal/storage"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidFilename = errors.New("invalid filename")
)

// SettingsStore — глобальный режим поддоменов и белый список владельцев
type SettingsStore interface {
	GetMode(ctx context.Context) (string, error)
	SetMode(ctx context.Context, mode string) error
	IsWhitelisted(ctx context.Context, ownerID uuid.UUID) (bool, error)
	AddOverride(ctx context.Context, ownerID uuid.UUID) error
	RemoveOverride(ctx context.Context, ownerID uuid.UUID) error
	ListOverrides(ctx context.Context) ([]uuid.UUID, error)
}

// ResolvedFile — файл, готовый к отдаче клиенту
type ResolvedFile struct {
	Path        string
	ContentType string
}

// ResolverService отдает файлы по поддоменным и путевым URL.
// Тенант выводится из hostname запроса; недоступность поддомена и
// отсутствие файла неразличимы для клиента.
type ResolverService struct {
	owners   OwnerStore
	settings SettingsStore
	disk     *storage.Disk
	domain   string
}

func NewResolverService(owners OwnerStore, settings SettingsStore, disk *storage.Disk, domain string) *ResolverService {
	return &ResolverService{
		owners:   owners,
		settings: settings,
		disk:     disk,
		domain:   strings.ToLower(domain),
	}
}

// TenantLabel выделяет метку тенанта из hostname запроса. Пустая строка
// означает, что запрос не привязан к тенанту и уходит в путевой резолвер.
func (s *ResolverService) TenantLabel(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	if host == s.domain {
		return ""
	}

	label, found := strings.CutSuffix(host, "."+s.domain)
	if !found || label == "" {
		return ""
	}
	// Вложенные поддомены тенантами не являются
	if strings.Contains(label, ".") {
		return ""
	}
	return label
}

// SubdomainAllowed сообщает, обслуживается ли сейчас поддомен владельца:
// при глобальном режиме enabled — всегда, при disabled — только по белому списку
func (s *ResolverService) SubdomainAllowed(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	mode, err := s.settings.GetMode(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get subdomain mode: %w", err)
	}
	if mode == domain.SubdomainModeEnabled {
		return true, nil
	}
	return s.settings.IsWhitelisted(ctx, ownerID)
}

// ResolveTenant ищет файл в директории тенанта. Несуществующий владелец,
// выключенный поддомен и отсутствующий файл дают одинаковый ErrNotFound,
// чтобы не допустить перечисление тенантов.
func (s *ResolverService) ResolveTenant(ctx context.Context, label, filename string) (*ResolvedFile, error) {
	if err := storage.SanitizeFilename(filename); err != nil {
		return nil, ErrInvalidFilename
	}

	owner, err := s.owners.GetByHandle(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}
	if owner == nil {
		return nil, ErrNotFound
	}

	allowed, err := s.SubdomainAllowed(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotFound
	}

	return s.resolveIn(owner.DirName(), filename)
}

// ResolvePath — путевой резолвер для непривязанных к тенанту URL:
// равнозначный ограниченный директориями поиск по всем директориям
// владельцев и общей анонимной, первый найденный файл выигрывает
func (s *ResolverService) ResolvePath(ctx context.Context, filename string) (*ResolvedFile, error) {
	if err := storage.SanitizeFilename(filename); err != nil {
		return nil, ErrInvalidFilename
	}

	dirs, err := s.disk.DirNames()
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)

	// Анонимную директорию проверяем первой
	ordered := make([]string, 0, len(dirs))
	ordered = append(ordered, storage.AnonymousDir)
	for _, d := range dirs {
		if d != storage.AnonymousDir {
			ordered = append(ordered, d)
		}
	}

	for _, dirName := range ordered {
		resolved, err := s.resolveIn(dirName, filename)
		if err == nil {
			return resolved, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

func (s *ResolverService) resolveIn(dirName, filename string) (*ResolvedFile, error) {
	path, err := s.disk.ResolveWithin(s.disk.DirFor(dirName), filename)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			return nil, ErrInvalidFilename
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, err
		}
	}

	return &ResolvedFile{
		Path:        path,
		ContentType: storage.ContentTypeFor(filename),
	}, nil
}

// SetMode переключает глобальный режим поддоменов
func (s *ResolverService) SetMode(ctx context.Context, mode string) error {
	return s.settings.SetMode(ctx, mode)
}

func (s *ResolverService) Mode(ctx context.Context) (string, error) {
	return s.settings.GetMode(ctx)
}

func (s *ResolverService) AddOverride(ctx context.Context, ownerID uuid.UUID) error {
	return s.settings.AddOverride(ctx, ownerID)
}

func (s *ResolverService) RemoveOverride(ctx context.Context, ownerID uuid.UUID) error {
	return s.settings.RemoveOverride(ctx, ownerID)
}

func (s *ResolverService) ListOverrides(ctx context.Context) ([]uuid.UUID, error) {
	return s.settings.ListOverrides(ctx)
}

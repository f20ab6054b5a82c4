package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"pixelbay/internal/domain"
	"pixelbay/internal/storage"
)

// Определение пользовательских ошибок
var (
	ErrUnknownToken  = errors.New("unknown api token")
	ErrSuspended     = errors.New("account suspended")
	ErrHandleTaken   = errors.New("handle already taken")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrBadCredential = errors.New("invalid credentials")
	ErrOwnerNotFound = errors.New("owner not found")
)

const (
	defaultDailyLimit  = 500
	defaultHourlyLimit = 0 // 0 — почасовой лимит владельца не применяется
)

// handle становится поддоменом и именем директории, поэтому допускаются
// только строчные буквы, цифры и дефис не по краям
var handlePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,30}[a-z0-9])?$`)

// OwnerStore — хранилище владельцев с индексами по токену и handle
type OwnerStore interface {
	Create(ctx context.Context, owner *domain.Owner) error
	GetByToken(ctx context.Context, token uuid.UUID) (*domain.Owner, error)
	GetByHandle(ctx context.Context, handle string) (*domain.Owner, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Owner, error)
	List(ctx context.Context) ([]domain.Owner, error)
	RecordUsage(ctx context.Context, id uuid.UUID) error
	UpdateLimits(ctx context.Context, id uuid.UUID, daily, hourly int) error
	SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error
	ResetToken(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	UpdateWatermark(ctx context.Context, id uuid.UUID, spec domain.WatermarkSpec) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// IdentityService отвечает за разрешение идентичности запроса,
// регистрацию владельцев и административные операции над ними
type IdentityService struct {
	owners OwnerStore
	disk   *storage.Disk
}

func NewIdentityService(owners OwnerStore, disk *storage.Disk) *IdentityService {
	return &IdentityService{
		owners: owners,
		disk:   disk,
	}
}

// Resolve сопоставляет токен и IP с идентичностью. Пустой токен дает
// анонимную идентичность; неизвестный или невалидный токен возвращает
// анонимную идентичность вместе с ErrUnknownToken — строгие эндпоинты
// считают это фатальным, опциональные могут продолжить как аноним.
// Побочных эффектов нет.
func (s *IdentityService) Resolve(ctx context.Context, token, ip string) (domain.Identity, error) {
	anon := domain.Identity{IP: ip}

	if token == "" {
		return anon, nil
	}

	parsed, err := uuid.Parse(token)
	if err != nil {
		return anon, ErrUnknownToken
	}

	owner, err := s.owners.GetByToken(ctx, parsed)
	if err != nil {
		return anon, fmt.Errorf("failed to resolve token: %w", err)
	}
	if owner == nil {
		return anon, ErrUnknownToken
	}
	if owner.Suspended {
		return anon, ErrSuspended
	}

	return domain.Identity{Owner: owner, IP: ip}, nil
}

// Register создает владельца и его директорию хранения.
// Директория создается здесь, а не в аллокаторе имен.
func (s *IdentityService) Register(ctx context.Context, handle, password string) (*domain.Owner, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if !handlePattern.MatchString(handle) || handle == storage.AnonymousDir {
		return nil, ErrInvalidHandle
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password too short", ErrBadCredential)
	}

	existing, err := s.owners.GetByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to check handle: %w", err)
	}
	if existing != nil {
		return nil, ErrHandleTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	owner := &domain.Owner{
		Handle:        handle,
		PasswordHash:  string(hash),
		DailyLimit:    defaultDailyLimit,
		HourlyLimit:   defaultHourlyLimit,
		WatermarkSpec: domain.DefaultWatermarkSpec(),
	}

	if err := s.owners.Create(ctx, owner); err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}

	if err := s.disk.EnsureDir(owner.DirName()); err != nil {
		return nil, fmt.Errorf("failed to create owner directory: %w", err)
	}

	log.Printf("[Identity] registered owner %s (%s)", owner.Handle, owner.ID)
	return owner, nil
}

// Authenticate проверяет пару handle/пароль и возвращает владельца с токеном
func (s *IdentityService) Authenticate(ctx context.Context, handle, password string) (*domain.Owner, error) {
	owner, err := s.owners.GetByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}
	if owner == nil {
		return nil, ErrBadCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredential
	}
	if owner.Suspended {
		return nil, ErrSuspended
	}
	return owner, nil
}

func (s *IdentityService) List(ctx context.Context) ([]domain.Owner, error) {
	return s.owners.List(ctx)
}

func (s *IdentityService) UpdateLimits(ctx context.Context, id uuid.UUID, daily, hourly int) error {
	if daily < 0 || hourly < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if err := s.requireOwner(ctx, id); err != nil {
		return err
	}
	return s.owners.UpdateLimits(ctx, id, daily, hourly)
}

func (s *IdentityService) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error {
	if err := s.requireOwner(ctx, id); err != nil {
		return err
	}
	return s.owners.SetSuspended(ctx, id, suspended)
}

func (s *IdentityService) ResetToken(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	if err := s.requireOwner(ctx, id); err != nil {
		return uuid.Nil, err
	}
	return s.owners.ResetToken(ctx, id)
}

func (s *IdentityService) requireOwner(ctx context.Context, id uuid.UUID) error {
	owner, err := s.owners.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get owner: %w", err)
	}
	if owner == nil {
		return ErrOwnerNotFound
	}
	return nil
}

func (s *IdentityService) UpdateWatermark(ctx context.Context, id uuid.UUID, spec domain.WatermarkSpec) error {
	if !domain.ValidPosition(spec.Position) {
		return fmt.Errorf("invalid watermark position: %s", spec.Position)
	}
	if spec.Opacity < 0 || spec.Opacity > 1 {
		return fmt.Errorf("watermark opacity must be within [0, 1]")
	}
	if spec.Enabled && strings.TrimSpace(spec.Text) == "" {
		return fmt.Errorf("watermark text must not be empty")
	}
	return s.owners.UpdateWatermark(ctx, id, spec)
}

// Delete удаляет владельца вместе с директорией хранения. Записи белого
// списка поддоменов снимаются синхронно в той же транзакции (каскадом),
// поэтому поддомен перестает обслуживаться сразу.
func (s *IdentityService) Delete(ctx context.Context, id uuid.UUID) error {
	owner, err := s.owners.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get owner: %w", err)
	}
	if owner == nil {
		return ErrOwnerNotFound
	}

	if err := s.owners.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.disk.RemoveDir(owner.DirName()); err != nil {
		// Запись уже удалена, оставлять директорию нельзя тихо
		log.Printf("[Identity] failed to remove directory for %s: %v", owner.Handle, err)
		return fmt.Errorf("owner removed, but directory cleanup failed: %w", err)
	}

	log.Printf("[Identity] deleted owner %s (%s)", owner.Handle, id)
	return nil
}

package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pixelbay/internal/domain"
	"pixelbay/internal/ratelimit"
	"pixelbay/internal/storage"
	"pixelbay/internal/watermark"
)

// fakeOwnerStore хранит владельцев в памяти
type fakeOwnerStore struct {
	mu     sync.Mutex
	owners map[uuid.UUID]*domain.Owner
	usage  map[uuid.UUID]int
}

func newFakeOwnerStore() *fakeOwnerStore {
	return &fakeOwnerStore{
		owners: make(map[uuid.UUID]*domain.Owner),
		usage:  make(map[uuid.UUID]int),
	}
}

func (f *fakeOwnerStore) Create(ctx context.Context, owner *domain.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner.ID = uuid.New()
	owner.Token = uuid.New()
	owner.CreatedAt = time.Now()
	clone := *owner
	f.owners[owner.ID] = &clone
	return nil
}

func (f *fakeOwnerStore) GetByToken(ctx context.Context, token uuid.UUID) (*domain.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.owners {
		if o.Token == token {
			clone := *o
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeOwnerStore) GetByHandle(ctx context.Context, handle string) (*domain.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.owners {
		if o.Handle == handle {
			clone := *o
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeOwnerStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.owners[id]; ok {
		clone := *o
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeOwnerStore) List(ctx context.Context) ([]domain.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Owner, 0, len(f.owners))
	for _, o := range f.owners {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOwnerStore) RecordUsage(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[id]++
	if o, ok := f.owners[id]; ok {
		o.UploadCount++
	}
	return nil
}

func (f *fakeOwnerStore) UpdateLimits(ctx context.Context, id uuid.UUID, daily, hourly int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.owners[id]; ok {
		o.DailyLimit = daily
		o.HourlyLimit = hourly
	}
	return nil
}

func (f *fakeOwnerStore) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.owners[id]; ok {
		o.Suspended = suspended
	}
	return nil
}

func (f *fakeOwnerStore) ResetToken(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := uuid.New()
	if o, ok := f.owners[id]; ok {
		o.Token = token
	}
	return token, nil
}

func (f *fakeOwnerStore) UpdateWatermark(ctx context.Context, id uuid.UUID, spec domain.WatermarkSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.owners[id]; ok {
		o.WatermarkSpec = spec
	}
	return nil
}

func (f *fakeOwnerStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.owners, id)
	return nil
}

// fakeAssetStore хранит записи о файлах в памяти
type fakeAssetStore struct {
	mu     sync.Mutex
	nextID int64
	assets map[int64]*domain.StoredAsset
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{assets: make(map[int64]*domain.StoredAsset)}
}

func (f *fakeAssetStore) Create(ctx context.Context, asset *domain.StoredAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	asset.ID = f.nextID
	asset.CreatedAt = time.Now()
	clone := *asset
	f.assets[asset.ID] = &clone
	return nil
}

func (f *fakeAssetStore) GetByFilename(ctx context.Context, ownerID *uuid.UUID, filename string) (*domain.StoredAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assets {
		if a.Filename != filename {
			continue
		}
		if ownerID == nil && a.OwnerID == nil {
			clone := *a
			return &clone, nil
		}
		if ownerID != nil && a.OwnerID != nil && *a.OwnerID == *ownerID {
			clone := *a
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeAssetStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assets, id)
	return nil
}

func (f *fakeAssetStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.StoredAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StoredAsset
	for _, a := range f.assets {
		if a.OwnerID != nil && *a.OwnerID == ownerID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// fakeSettingsStore хранит режим поддоменов и белый список в памяти
type fakeSettingsStore struct {
	mu        sync.Mutex
	mode      string
	overrides map[uuid.UUID]bool
}

func newFakeSettingsStore(mode string) *fakeSettingsStore {
	return &fakeSettingsStore{
		mode:      mode,
		overrides: make(map[uuid.UUID]bool),
	}
}

func (f *fakeSettingsStore) GetMode(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode, nil
}

func (f *fakeSettingsStore) SetMode(ctx context.Context, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}

func (f *fakeSettingsStore) IsWhitelisted(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overrides[ownerID], nil
}

func (f *fakeSettingsStore) AddOverride(ctx context.Context, ownerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[ownerID] = true
	return nil
}

func (f *fakeSettingsStore) RemoveOverride(ctx context.Context, ownerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.overrides, ownerID)
	return nil
}

func (f *fakeSettingsStore) ListOverrides(ctx context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.overrides))
	for id := range f.overrides {
		out = append(out, id)
	}
	return out, nil
}

func newTestDisk(t *testing.T) *storage.Disk {
	t.Helper()
	disk, err := storage.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return disk
}

// testLimiters собирает лимитеры поверх общего хранилища в памяти
func testLimiters(anonLimit, authLimit int) Limiters {
	store := ratelimit.NewMemoryStore()
	return Limiters{
		Anonymous:     ratelimit.New(store, ratelimit.Policy{Name: "anon", Limit: anonLimit, Window: time.Hour}, false),
		Authenticated: ratelimit.New(store, ratelimit.Policy{Name: "auth", Limit: authLimit, Window: 24 * time.Hour}, false),
		OwnerHourly:   ratelimit.New(store, ratelimit.Policy{Name: "auth-hourly", Limit: anonLimit, Window: time.Hour}, false),
	}
}

// testPNG кодирует небольшой непрозрачный PNG
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// memFile оборачивает байты в multipart.File
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func uploadFile(data []byte) (multipart.File, *multipart.FileHeader) {
	return memFile{bytes.NewReader(data)}, &multipart.FileHeader{
		Filename: "photo.png",
		Size:     int64(len(data)),
	}
}

func newTestWorker(t *testing.T, disk *storage.Disk) *watermark.Worker {
	t.Helper()
	w := watermark.NewWorker(disk, 16)
	w.Start(1)
	t.Cleanup(w.Stop)
	return w
}

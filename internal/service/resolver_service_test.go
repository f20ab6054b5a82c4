package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"pixelbay/internal/domain"
	"pixelbay/internal/storage"
)

// resolverFixture поднимает резолвер с одним владельцем и файлом в его
// директории и файлом в общей анонимной
type resolverFixture struct {
	owners   *fakeOwnerStore
	settings *fakeSettingsStore
	disk     *storage.Disk
	svc      *ResolverService
	owner    *domain.Owner
}

func newResolverFixture(t *testing.T, mode string) *resolverFixture {
	t.Helper()

	owners := newFakeOwnerStore()
	settings := newFakeSettingsStore(mode)
	disk := newTestDisk(t)

	owner := &domain.Owner{Handle: "alice"}
	if err := owners.Create(context.Background(), owner); err != nil {
		t.Fatalf("Create owner: %v", err)
	}
	if err := disk.EnsureDir("alice"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if _, err := disk.WriteAtomic(disk.DirFor("alice"), "abcd.png", bytes.NewReader([]byte("owner-bytes"))); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if _, err := disk.WriteAtomic(disk.DirFor(storage.AnonymousDir), "anon.png", bytes.NewReader([]byte("anon-bytes"))); err != nil {
		t.Fatalf("WriteAtomic anon: %v", err)
	}

	return &resolverFixture{
		owners:   owners,
		settings: settings,
		disk:     disk,
		svc:      NewResolverService(owners, settings, disk, "pix.example"),
		owner:    owner,
	}
}

func TestResolverService_TenantLabel(t *testing.T) {
	svc := NewResolverService(newFakeOwnerStore(), newFakeSettingsStore(domain.SubdomainModeEnabled), newTestDisk(t), "pix.example")

	cases := []struct {
		host string
		want string
	}{
		{"pix.example", ""},
		{"pix.example:2525", ""},
		{"alice.pix.example", "alice"},
		{"ALICE.pix.example:443", "alice"},
		{"a.b.pix.example", ""},
		{".pix.example", ""},
		{"otherhost.example", ""},
		{"localhost", ""},
	}
	for _, tc := range cases {
		if got := svc.TenantLabel(tc.host); got != tc.want {
			t.Errorf("TenantLabel(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestResolverService_ResolveTenant(t *testing.T) {
	f := newResolverFixture(t, domain.SubdomainModeEnabled)

	resolved, err := f.svc.ResolveTenant(context.Background(), "alice", "abcd.png")
	if err != nil {
		t.Fatalf("ResolveTenant: %v", err)
	}
	if resolved.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", resolved.ContentType)
	}

	// Файл другого тенанта через чужой поддомен недоступен
	if _, err := f.svc.ResolveTenant(context.Background(), "alice", "anon.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant lookup: err = %v, want ErrNotFound", err)
	}
}

func TestResolverService_UnknownTenantIndistinguishable(t *testing.T) {
	f := newResolverFixture(t, domain.SubdomainModeEnabled)

	_, missingOwner := f.svc.ResolveTenant(context.Background(), "nobody", "abcd.png")
	_, missingFile := f.svc.ResolveTenant(context.Background(), "alice", "zzzz.png")

	if !errors.Is(missingOwner, ErrNotFound) || !errors.Is(missingFile, ErrNotFound) {
		t.Fatalf("want identical ErrNotFound, got %v / %v", missingOwner, missingFile)
	}
}

func TestResolverService_DisabledModeHidesTenant(t *testing.T) {
	f := newResolverFixture(t, domain.SubdomainModeDisabled)

	// Файл существует, но поддомен глобально выключен
	if _, err := f.svc.ResolveTenant(context.Background(), "alice", "abcd.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disabled mode: err = %v, want ErrNotFound", err)
	}

	// Белый список возвращает владельцу поддомен
	if err := f.settings.AddOverride(context.Background(), f.owner.ID); err != nil {
		t.Fatalf("AddOverride: %v", err)
	}
	if _, err := f.svc.ResolveTenant(context.Background(), "alice", "abcd.png"); err != nil {
		t.Fatalf("whitelisted tenant: %v", err)
	}

	// Путевой резолвер при этом продолжает отдавать файл
	if _, err := f.svc.ResolvePath(context.Background(), "abcd.png"); err != nil {
		t.Fatalf("ResolvePath under disabled mode: %v", err)
	}
}

func TestResolverService_ResolvePathSearchesAllDirs(t *testing.T) {
	f := newResolverFixture(t, domain.SubdomainModeEnabled)

	for _, name := range []string{"anon.png", "abcd.png"} {
		resolved, err := f.svc.ResolvePath(context.Background(), name)
		if err != nil {
			t.Fatalf("ResolvePath(%q): %v", name, err)
		}
		if resolved.Path == "" {
			t.Errorf("ResolvePath(%q): empty path", name)
		}
	}

	if _, err := f.svc.ResolvePath(context.Background(), "nope.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file: err = %v, want ErrNotFound", err)
	}
}

func TestResolverService_RejectsTraversal(t *testing.T) {
	f := newResolverFixture(t, domain.SubdomainModeEnabled)

	for _, name := range []string{"../alice/abcd.png", "..", ".hidden", "a/b.png", `a\b.png`} {
		if _, err := f.svc.ResolvePath(context.Background(), name); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("ResolvePath(%q): err = %v, want ErrInvalidFilename", name, err)
		}
		if _, err := f.svc.ResolveTenant(context.Background(), "alice", name); !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("ResolveTenant(%q): err = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestResolverService_ModeRoundTrip(t *testing.T) {
	f := newResolverFixture(t, domain.SubdomainModeEnabled)

	if err := f.svc.SetMode(context.Background(), domain.SubdomainModeDisabled); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	mode, err := f.svc.Mode(context.Background())
	if err != nil || mode != domain.SubdomainModeDisabled {
		t.Fatalf("Mode = %q, %v", mode, err)
	}

	if err := f.svc.AddOverride(context.Background(), f.owner.ID); err != nil {
		t.Fatalf("AddOverride: %v", err)
	}
	overrides, err := f.svc.ListOverrides(context.Background())
	if err != nil || len(overrides) != 1 || overrides[0] != f.owner.ID {
		t.Fatalf("ListOverrides = %v, %v", overrides, err)
	}
	if err := f.svc.RemoveOverride(context.Background(), f.owner.ID); err != nil {
		t.Fatalf("RemoveOverride: %v", err)
	}
	overrides, _ = f.svc.ListOverrides(context.Background())
	if len(overrides) != 0 {
		t.Fatalf("expected empty overrides, got %v", overrides)
	}
}

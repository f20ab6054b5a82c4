package storage

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Имя общей директории для анонимных загрузок
const AnonymousDir = "anonymous"

var (
	ErrInvalidName = errors.New("invalid filename")
	ErrNotFound    = errors.New("file not found")
)

// Disk — дисковое хранилище загрузок: по директории на владельца
// плюс общая анонимная директория под общим корнем
type Disk struct {
	root string
}

func NewDisk(root string) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	d := &Disk{root: abs}

	if err := os.MkdirAll(d.DirFor(AnonymousDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	return d, nil
}

func (d *Disk) Root() string {
	return d.root
}

// DirFor возвращает абсолютный путь директории владельца (или анонимной)
func (d *Disk) DirFor(dirName string) string {
	return filepath.Join(d.root, strings.ToLower(dirName))
}

// EnsureDir создает директорию владельца; вызывается при регистрации
func (d *Disk) EnsureDir(dirName string) error {
	return os.MkdirAll(d.DirFor(dirName), 0755)
}

// RemoveDir удаляет директорию владельца вместе с содержимым
func (d *Disk) RemoveDir(dirName string) error {
	dir := d.DirFor(dirName)
	if dir == d.root {
		return fmt.Errorf("refusing to remove storage root")
	}
	return os.RemoveAll(dir)
}

// DirNames возвращает имена всех директорий под корнем хранилища
func (d *Disk) DirNames() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// WriteAtomic записывает данные во временный файл и атомарно переименовывает
// его в целевое имя. Читатель никогда не видит частично записанный файл;
// при любой ошибке временный файл удаляется.
func (d *Disk) WriteAtomic(dir, name string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write upload data: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to finalize upload file: %w", err)
	}

	return written, nil
}

// ReplaceAtomic перезаписывает существующий файл новыми байтами через
// временный файл и rename; используется фоновой простановкой водяного знака
func (d *Disk) ReplaceAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".rewrite-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write replacement data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// Remove удаляет файл из директории
func (d *Disk) Remove(dir, name string) error {
	if err := SanitizeFilename(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// SanitizeFilename отклоняет имена с разделителями пути, `..` и символами
// вне разрешенного набора. Сервис сам генерирует имена файлов, поэтому
// все, что не проходит проверку, заведомо не наш файл.
func SanitizeFilename(name string) error {
	if name == "" || len(name) > 255 {
		return ErrInvalidName
	}
	if strings.Contains(name, "..") {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrInvalidName
	}
	if strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return ErrInvalidName
		}
	}
	return nil
}

// ResolveWithin возвращает абсолютный путь файла внутри директории.
// Помимо санитизации имени итоговый путь проверяется префиксом: даже при
// ошибке в санитизации файл за пределами dir открыт не будет.
func (d *Disk) ResolveWithin(dir, name string) (string, error) {
	if err := SanitizeFilename(name); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		log.Printf("[Storage] path escape attempt blocked: %q in %q", name, dir)
		return "", ErrInvalidName
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", ErrNotFound
	}

	return absPath, nil
}

// Таблица типов содержимого по расширению; неизвестные расширения
// отдаются как бинарные данные
var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

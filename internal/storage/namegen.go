package storage

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// Алфавит без визуально похожих символов (0/O/o, 1/l/I)
const nameAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	nameMinLen  = 4
	nameMaxLen  = 6
	maxAttempts = 10
	extraLen    = 4
)

// randomName возвращает случайную строку длины n из алфавита
func randomName(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = nameAlphabet[int(b)%len(nameAlphabet)]
	}
	return string(buf), nil
}

// randomLen выбирает длину имени в диапазоне [nameMinLen, nameMaxLen]
func randomLen() (int, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return nameMinLen + int(b[0])%(nameMaxLen-nameMinLen+1), nil
}

// Allocate выбирает короткое имя, не занятое в директории, и резервирует
// его созданием файла с O_EXCL: гонка между проверкой существования и
// записью исключена. Имена никогда не выводятся из имени клиента.
// После maxAttempts коллизий к имени добавляется дополнительная энтропия.
func Allocate(dir, ext string) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := randomLen()
		if err != nil {
			return "", err
		}
		base, err := randomName(n)
		if err != nil {
			return "", err
		}

		name := base + ext
		if claimed, err := claim(dir, name); err != nil {
			return "", err
		} else if claimed {
			return name, nil
		}
	}

	// Гарантированное завершение: длинное имя с дополнительным суффиксом
	base, err := randomName(nameMaxLen)
	if err != nil {
		return "", err
	}
	suffix, err := randomName(extraLen)
	if err != nil {
		return "", err
	}

	name := base + suffix + ext
	if claimed, err := claim(dir, name); err != nil {
		return "", err
	} else if !claimed {
		return "", fmt.Errorf("failed to allocate unique filename in %s", dir)
	}
	return name, nil
}

// claim атомарно создает пустой файл-заглушку под выбранным именем
func claim(dir, name string) (bool, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim filename: %w", err)
	}
	f.Close()
	return true, nil
}

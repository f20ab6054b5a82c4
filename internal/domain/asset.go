package domain

import (
	"time"

	"github.com/google/uuid"
)

// StoredAsset представляет загруженный файл в директории владельца.
// Имя файла всегда сгенерировано сервисом, никогда не берется у клиента.
type StoredAsset struct {
	ID        int64      `json:"id" db:"id"`
	Filename  string     `json:"filename" db:"filename"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty" db:"owner_id"`
	SizeBytes int64      `json:"size_bytes" db:"size_bytes"`
	MIMEType  string     `json:"mime_type" db:"mime_type"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Anonymous сообщает, лежит ли файл в общей анонимной директории
func (a *StoredAsset) Anonymous() bool {
	return a.OwnerID == nil
}

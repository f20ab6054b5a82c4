package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Owner представляет владельца аккаунта с собственной директорией хранения
type Owner struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Handle       string     `json:"handle" db:"handle"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Token        uuid.UUID  `json:"token" db:"token"`
	DailyLimit   int        `json:"daily_limit" db:"daily_limit"`
	HourlyLimit  int        `json:"hourly_limit" db:"hourly_limit"`
	UploadCount  int64      `json:"upload_count" db:"upload_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	Suspended    bool       `json:"suspended" db:"suspended"`
	WatermarkSpec
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DirName возвращает имя директории владельца (совпадает с поддоменом)
func (o *Owner) DirName() string {
	return strings.ToLower(o.Handle)
}

// Позиции якоря водяного знака
const (
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"
	PositionCenter      = "center"
)

// WatermarkSpec описывает текстовый водяной знак владельца
type WatermarkSpec struct {
	Enabled  bool    `json:"enabled" db:"wm_enabled"`
	Text     string  `json:"text" db:"wm_text"`
	Position string  `json:"position" db:"wm_position"`
	Opacity  float64 `json:"opacity" db:"wm_opacity"`
	FontSize int     `json:"font_size" db:"wm_font_size"`
	Color    string  `json:"color" db:"wm_color"`
	Padding  int     `json:"padding" db:"wm_padding"`
	Async    bool    `json:"async" db:"wm_async"`
	FastMode bool    `json:"fast_mode" db:"wm_fast_mode"`
}

// DefaultWatermarkSpec возвращает спецификацию по умолчанию (знак выключен)
func DefaultWatermarkSpec() WatermarkSpec {
	return WatermarkSpec{
		Enabled:  false,
		Text:     "",
		Position: PositionBottomRight,
		Opacity:  0.5,
		FontSize: 24,
		Color:    "#ffffff",
		Padding:  16,
		Async:    false,
		FastMode: false,
	}
}

// ValidPosition проверяет, что позиция является одним из пяти якорей
func ValidPosition(p string) bool {
	switch p {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter:
		return true
	}
	return false
}

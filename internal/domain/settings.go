package domain

import "github.com/google/uuid"

// Режимы выдачи поддоменных URL
const (
	SubdomainModeEnabled  = "enabled"
	SubdomainModeDisabled = "disabled"
)

// SubdomainSettings хранит глобальный режим поддоменов и точечные исключения.
// При режиме disabled доступ остается только у владельцев из белого списка.
type SubdomainSettings struct {
	Mode      string      `json:"mode" db:"mode"`
	Overrides []uuid.UUID `json:"overrides,omitempty"`
}

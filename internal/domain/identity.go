package domain

// Identity представляет инициатора запроса: владелец аккаунта либо аноним по IP
type Identity struct {
	Owner *Owner
	IP    string
}

func (i Identity) Anonymous() bool {
	return i.Owner == nil
}

// RateKey возвращает ключ для счетчика лимитов (токен владельца либо IP)
func (i Identity) RateKey() string {
	if i.Owner != nil {
		return i.Owner.ID.String()
	}
	return i.IP
}

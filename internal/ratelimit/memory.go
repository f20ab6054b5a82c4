package ratelimit

import (
	"context"
	"sync"
	"time"
)

// maxIdleWindows ограничивает рост карты окон: при превышении
// просроченные записи удаляются при следующем Take
const maxIdleWindows = 10000

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore хранит счетчики окон в памяти процесса.
// Check-and-increment выполняется целиком под мьютексом, поэтому два
// конкурентных запроса с одним ключом никогда не проходят сверх лимита.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (s *MemoryStore) Take(_ context.Context, key string, limit int, windowDur time.Duration) (int64, time.Time, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		if len(s.windows) >= maxIdleWindows {
			s.purgeExpired(now)
		}
		w = &window{}
		s.windows[key] = w
	}

	// Первое обращение либо истекшее окно: начинаем новое
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.count = 1
		w.resetAt = now.Add(windowDur)
		return w.count, w.resetAt, true, nil
	}

	if w.count >= int64(limit) {
		return w.count, w.resetAt, false, nil
	}

	w.count++
	return w.count, w.resetAt, true, nil
}

// purgeExpired вызывается под s.mu
func (s *MemoryStore) purgeExpired(now time.Time) {
	for key, w := range s.windows {
		if !w.resetAt.IsZero() && !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}

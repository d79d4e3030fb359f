package progression

import (
	"context"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит состояние прогресса.
type Repository interface {
	// Get возвращает состояние пользователя.
	// Возвращает shared.ErrProgressionNotFound, если его ещё нет.
	Get(ctx context.Context, user shared.UserID) (State, error)

	// Save записывает состояние, если сохранённая версия равна state.Version
	// (0 - вставка нового). Возвращает новую версию.
	// При несовпадении возвращает shared.ErrStaleProgression.
	Save(ctx context.Context, state State) (int64, error)
}

// Cache - кэш чтения для запросов прогресса.
type Cache interface {
	Get(ctx context.Context, user shared.UserID) (State, bool, error)

	// Set кладёт состояние в кэш. Состояние с версией ниже порога,
	// записанного последним Invalidate, молча пропускается.
	Set(ctx context.Context, state State) error

	// Invalidate удаляет запись и поднимает порог версии до version,
	// чтобы читатель, загрузивший старую версию, не вернул её в кэш.
	Invalidate(ctx context.Context, user shared.UserID, version int64) error
}

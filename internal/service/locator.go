// locator.go — кэш расположения публичных файлов: имя на диске → пространство.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/filedrop/internal/api/middleware"
)

// PublicLocator запоминает, в каком пространстве найден публичный файл,
// чтобы не сканировать все пространства при каждом скачивании.
// Запись — только подсказка: перед использованием она перепроверяется.
type PublicLocator struct {
	cache *expirable.LRU[string, string]
}

// NewPublicLocator создаёт кэш на size записей с временем жизни ttl.
func NewPublicLocator(size int, ttl time.Duration) *PublicLocator {
	return &PublicLocator{
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Lookup возвращает директорию пространства для stored.
func (l *PublicLocator) Lookup(stored string) (string, bool) {
	dir, ok := l.cache.Get(stored)
	if ok {
		middleware.PublicCacheHits.Inc()
	} else {
		middleware.PublicCacheMisses.Inc()
	}
	return dir, ok
}

// Remember сохраняет расположение stored.
func (l *PublicLocator) Remember(stored, dir string) {
	l.cache.Add(stored, dir)
}

// Forget удаляет запись (файл удалён или истёк).
func (l *PublicLocator) Forget(stored string) {
	l.cache.Remove(stored)
}

// Len — текущее число записей.
func (l *PublicLocator) Len() int {
	return l.cache.Len()
}

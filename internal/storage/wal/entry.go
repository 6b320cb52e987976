// Пакет wal — файловый Write-Ahead Log незавершённых загрузок.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в FD_WAL_DIR.
// Запись pending, пережившая рестарт, означает прерванную операцию:
// восстановление при старте удаляет частичные файлы или доводит
// finalize до конца.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpDirectUpload — потоковая загрузка файла одним запросом
	OpDirectUpload OperationType = "direct_upload"
	// OpSessionFinalize — переименование .part сессии в итоговый файл
	OpSessionFinalize OperationType = "session_finalize"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена (ошибка или откат при восстановлении)
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Target — объект операции.
type Target struct {
	// Owner — владелец пространства
	Owner string `json:"owner"`
	// Dir — директория пространства
	Dir string `json:"dir"`
	// StoredName — итоговое имя файла на диске
	StoredName string `json:"stored_name"`
	// TempPath — путь частичного файла (temp или .part)
	TempPath string `json:"temp_path"`
	// SessionID — id сессии для session_finalize
	SessionID string `json:"session_id,omitempty"`
	// DisplayName — оригинальное имя для .meta при восстановлении
	DisplayName string `json:"display_name,omitempty"`
}

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// Target — над чем выполняется операция
	Target Target `json:"target"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walSuffix — расширение файлов журнала.
const walSuffix = ".wal.json"

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + walSuffix
}

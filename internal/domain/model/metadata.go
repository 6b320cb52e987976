// Пакет model — доменные модели filedrop.
// FileMetadata — содержимое sidecar-файла .<stored>.meta рядом с файлом
// в пространстве владельца. StoredFile и FileInfo — представления
// сохранённого файла для ответов API.
package model

import (
	"time"
)

// FileMetadata — метаданные сохранённого файла. Соответствует содержимому .meta.
type FileMetadata struct {
	// OriginalName — имя файла, переданное клиентом при загрузке
	OriginalName string `json:"original_name"`

	// UploadDate — время завершения загрузки
	UploadDate time.Time `json:"upload_date"`

	// ExpiresDate — момент, после которого файл удаляется sweep-ом.
	// nil — файл не истекает.
	ExpiresDate *time.Time `json:"expires_date,omitempty"`

	// UserID — владелец пространства
	UserID string `json:"user_id"`
}

// NewFileMetadata формирует метаданные для только что сохранённого файла.
// retention <= 0 — файл без срока хранения.
func NewFileMetadata(owner, originalName string, now time.Time, retention time.Duration) *FileMetadata {
	meta := &FileMetadata{
		OriginalName: originalName,
		UploadDate:   now,
		UserID:       owner,
	}
	if retention > 0 {
		exp := now.Add(retention)
		meta.ExpiresDate = &exp
	}
	return meta
}

// IsExpired проверяет, истёк ли срок хранения файла.
// Отсутствующие метаданные (nil) никогда не истекают.
func (m *FileMetadata) IsExpired(now time.Time) bool {
	if m == nil || m.ExpiresDate == nil {
		return false
	}
	return now.After(*m.ExpiresDate)
}

// DaysLeft возвращает количество полных дней до истечения (не меньше 0).
// Второе значение false, если срок хранения не задан.
func (m *FileMetadata) DaysLeft(now time.Time) (int, bool) {
	if m == nil || m.ExpiresDate == nil {
		return 0, false
	}
	days := int(m.ExpiresDate.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}

// StoredFile — дескриптор файла после успешной загрузки или finalize.
type StoredFile struct {
	// Owner — владелец пространства
	Owner string `json:"-"`
	// Name — имя на диске: YYYYMMDD_HHMMSS_<sanitized>
	Name string `json:"filename"`
	// DisplayName — оригинальное имя для пользователя
	DisplayName string `json:"display_name"`
	// Size — размер в байтах
	Size int64 `json:"size_bytes"`
	// SizeFormatted — человекочитаемый размер ("1.5 MB")
	SizeFormatted string `json:"size"`
	// CreatedAt — время создания
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt — время истечения (nil — бессрочно)
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Message — сообщение для пользователя
	Message string `json:"message"`
}

// FileInfo — элемент списка файлов пространства.
type FileInfo struct {
	Name          string     `json:"name"`
	DisplayName   string     `json:"display_name"`
	Size          int64      `json:"size"`
	SizeFormatted string     `json:"size_formatted"`
	Modified      time.Time  `json:"modified"`
	Extension     string     `json:"extension"`
	ExpiresDate   *time.Time `json:"expires_date,omitempty"`
	DaysLeft      *int       `json:"days_left,omitempty"`
}

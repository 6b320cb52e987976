package model

import (
	"time"
)

// UploadSession — запись сессии возобновляемой загрузки (.upload_<id>.json).
//
// received_bytes монотонно не убывает и кратен chunk_size везде,
// кроме последнего чанка.
type UploadSession struct {
	ID            string    `json:"upload_id"`
	UserID        string    `json:"user_id"`
	Filename      string    `json:"filename"`
	OriginalName  string    `json:"original_name"`
	TotalSize     int64     `json:"total_size"`
	ChunkSize     int64     `json:"chunk_size"`
	ReceivedBytes int64     `json:"received_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NextIndex — индекс чанка, который сессия ожидает следующим.
func (s *UploadSession) NextIndex() int64 {
	if s.ChunkSize <= 0 {
		return 0
	}
	return s.ReceivedBytes / s.ChunkSize
}

// IsComplete сообщает, получены ли все объявленные байты.
func (s *UploadSession) IsComplete() bool {
	return s.ReceivedBytes >= s.TotalSize
}

// ChunkCount — общее число чанков при текущем chunk_size.
func (s *UploadSession) ChunkCount() int64 {
	if s.ChunkSize <= 0 || s.TotalSize == 0 {
		return 0
	}
	return (s.TotalSize + s.ChunkSize - 1) / s.ChunkSize
}

// AppendResult — ответ на приём чанка.
type AppendResult struct {
	ReceivedBytes int64 `json:"received_bytes"`
	TotalSize     int64 `json:"total_size"`
	Completed     bool  `json:"completed"`
}

package model

import "time"

// StorageDeletion — запись outbox об объекте хранилища, ожидающем удаления.
// Создаётся в одной транзакции с изменением записи дефекта.
type StorageDeletion struct {
	ID          int64
	Bucket      string
	Path        string
	DefectID    *int64
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/defects-register/internal/repository"
	"github.com/bigkaa/defects-register/internal/storage"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (путь файла уже присутствует в записи).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrStorageUnavailable — объектное хранилище недоступно или вернуло ошибку.
	ErrStorageUnavailable = errors.New("хранилище недоступно")
)

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, repository.ErrUnknownReference):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return err
}

// mapStorageError переводит ошибки хранилища в ошибки сервиса.
func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrObjectNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, storage.ErrObjectExists):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, storage.ErrInvalidPath):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

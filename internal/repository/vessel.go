package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// VesselRepository — чтение справочника судов.
type VesselRepository interface {
	// List возвращает все суда в порядке имени.
	List(ctx context.Context) ([]model.Vessel, error)
}

type vesselRepo struct {
	db DBTX
}

// NewVesselRepository создаёт репозиторий судов.
func NewVesselRepository(db DBTX) VesselRepository {
	return &vesselRepo{db: db}
}

func (r *vesselRepo) List(ctx context.Context) ([]model.Vessel, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM vessels ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка судов: %w", err)
	}
	defer rows.Close()

	result := []model.Vessel{}
	for rows.Next() {
		var v model.Vessel
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования судна: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

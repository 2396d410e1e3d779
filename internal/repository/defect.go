package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// DefectRepository — интерфейс CRUD для таблицы "defects register".
type DefectRepository interface {
	// List возвращает дефекты, удовлетворяющие фильтрам, в порядке id.
	List(ctx context.Context, filters DefectListFilters) ([]model.Defect, error)
	// GetByID возвращает дефект по id.
	GetByID(ctx context.Context, id int64) (*model.Defect, error)
	// GetForUpdate возвращает дефект с блокировкой строки (только внутри транзакции).
	GetForUpdate(ctx context.Context, id int64) (*model.Defect, error)
	// Create создаёт дефект; id, vessel_name и метки времени заполняются из БД.
	Create(ctx context.Context, d *model.Defect) error
	// Update обновляет редактируемые поля и обе коллекции файлов.
	Update(ctx context.Context, d *model.Defect) error
	// UpdateFiles обновляет только коллекции файлов записи с указанным id.
	UpdateFiles(ctx context.Context, id int64, initial, completion []model.AttachedFile) error
	// Delete удаляет дефект.
	Delete(ctx context.Context, id int64) error
}

// DefectListFilters — фильтры списка дефектов. Пустые значения не применяются.
type DefectListFilters struct {
	VesselIDs   []string
	DateFrom    string
	DateTo      string
	Search      string
	Status      string
	Criticality string
}

// defectRepo — реализация DefectRepository.
type defectRepo struct {
	db DBTX
}

// NewDefectRepository создаёт репозиторий дефектов.
func NewDefectRepository(db DBTX) DefectRepository {
	return &defectRepo{db: db}
}

// defectColumns — колонки выборки дефекта; порядок совпадает со scanDefect.
const defectColumns = `
	d.id, d.vessel_id, v.name, d."Status (Vessel)", COALESCE(d."Criticality", ''),
	d."Equipments", d."Description", d."Action Planned", d."Comments", d.closure_comments,
	COALESCE(d."Date Reported"::text, ''), COALESCE(d."Date Completed"::text, ''),
	d.initial_files, d.completion_files, d.created_at, d.updated_at`

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefect(row rowScanner) (*model.Defect, error) {
	d := &model.Defect{}
	err := row.Scan(
		&d.ID, &d.VesselID, &d.VesselName, &d.Status, &d.Criticality,
		&d.Equipments, &d.Description, &d.ActionPlanned, &d.Comments, &d.ClosureComments,
		&d.DateReported, &d.DateCompleted,
		&d.InitialFiles, &d.CompletionFiles, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// buildDefectWhere строит WHERE-условие и аргументы для фильтрации дефектов.
func buildDefectWhere(filters DefectListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if len(filters.VesselIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("d.vessel_id = ANY($%d)", argNum))
		args = append(args, filters.VesselIDs)
		argNum++
	}
	if filters.DateFrom != "" {
		conditions = append(conditions, fmt.Sprintf(`d."Date Reported" >= $%d::date`, argNum))
		args = append(args, filters.DateFrom)
		argNum++
	}
	if filters.DateTo != "" {
		conditions = append(conditions, fmt.Sprintf(`d."Date Reported" <= $%d::date`, argNum))
		args = append(args, filters.DateTo)
		argNum++
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(v.name ILIKE $%[1]d OR d."Equipments" ILIKE $%[1]d OR d."Description" ILIKE $%[1]d`+
				` OR d."Action Planned" ILIKE $%[1]d OR d."Comments" ILIKE $%[1]d)`, argNum))
		args = append(args, "%"+escapeLike(s)+"%")
		argNum++
	}
	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf(`d."Status (Vessel)" = $%d`, argNum))
		args = append(args, filters.Status)
		argNum++
	}
	if filters.Criticality != "" {
		conditions = append(conditions, fmt.Sprintf(`d."Criticality" = $%d`, argNum))
		args = append(args, filters.Criticality)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// nonNil гарантирует, что в JSONB пишется [] вместо null.
func nonNil(files []model.AttachedFile) []model.AttachedFile {
	if files == nil {
		return []model.AttachedFile{}
	}
	return files
}

func (r *defectRepo) List(ctx context.Context, filters DefectListFilters) ([]model.Defect, error) {
	where, args := buildDefectWhere(filters, 1)

	query := fmt.Sprintf(`
		SELECT %s
		FROM "defects register" d
		JOIN vessels v ON v.id = d.vessel_id
		%s
		ORDER BY d.id`, defectColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка дефектов: %w", err)
	}
	defer rows.Close()

	result := []model.Defect{}
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования дефекта: %w", err)
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *defectRepo) GetByID(ctx context.Context, id int64) (*model.Defect, error) {
	return r.get(ctx, id, "")
}

func (r *defectRepo) GetForUpdate(ctx context.Context, id int64) (*model.Defect, error) {
	return r.get(ctx, id, "FOR UPDATE OF d")
}

func (r *defectRepo) get(ctx context.Context, id int64, lock string) (*model.Defect, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM "defects register" d
		JOIN vessels v ON v.id = d.vessel_id
		WHERE d.id = $1
		%s`, defectColumns, lock)

	d, err := scanDefect(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения дефекта: %w", err)
	}
	return d, nil
}

func (r *defectRepo) Create(ctx context.Context, d *model.Defect) error {
	query := `
		WITH ins AS (
			INSERT INTO "defects register" (vessel_id, "Status (Vessel)", "Criticality",
				"Equipments", "Description", "Action Planned", "Comments", closure_comments,
				"Date Reported", "Date Completed", initial_files, completion_files)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8,
				NULLIF($9, '')::date, NULLIF($10, '')::date, $11, $12)
			RETURNING id, vessel_id, created_at, updated_at
		)
		SELECT ins.id, v.name, ins.created_at, ins.updated_at
		FROM ins JOIN vessels v ON v.id = ins.vessel_id`

	err := r.db.QueryRow(ctx, query,
		d.VesselID, d.Status, d.Criticality,
		d.Equipments, d.Description, d.ActionPlanned, d.Comments, d.ClosureComments,
		d.DateReported, d.DateCompleted, nonNil(d.InitialFiles), nonNil(d.CompletionFiles),
	).Scan(&d.ID, &d.VesselName, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: судно %q не найдено", ErrUnknownReference, d.VesselID)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: дефект уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания дефекта: %w", err)
	}
	return nil
}

func (r *defectRepo) Update(ctx context.Context, d *model.Defect) error {
	query := `
		WITH upd AS (
			UPDATE "defects register"
			SET vessel_id = $2, "Status (Vessel)" = $3, "Criticality" = NULLIF($4, ''),
				"Equipments" = $5, "Description" = $6, "Action Planned" = $7, "Comments" = $8,
				closure_comments = $9, "Date Reported" = NULLIF($10, '')::date,
				"Date Completed" = NULLIF($11, '')::date,
				initial_files = $12, completion_files = $13, updated_at = now()
			WHERE id = $1
			RETURNING vessel_id, updated_at
		)
		SELECT v.name, upd.updated_at
		FROM upd JOIN vessels v ON v.id = upd.vessel_id`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.VesselID, d.Status, d.Criticality,
		d.Equipments, d.Description, d.ActionPlanned, d.Comments,
		d.ClosureComments, d.DateReported, d.DateCompleted,
		nonNil(d.InitialFiles), nonNil(d.CompletionFiles),
	).Scan(&d.VesselName, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: судно %q не найдено", ErrUnknownReference, d.VesselID)
		}
		return fmt.Errorf("ошибка обновления дефекта: %w", err)
	}
	return nil
}

func (r *defectRepo) UpdateFiles(ctx context.Context, id int64, initial, completion []model.AttachedFile) error {
	query := `
		UPDATE "defects register"
		SET initial_files = $2, completion_files = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, nonNil(initial), nonNil(completion))
	if err != nil {
		return fmt.Errorf("ошибка обновления файлов дефекта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *defectRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM "defects register" WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления дефекта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

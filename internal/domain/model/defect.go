// Пакет model — доменные модели Defects Register.
package model

import (
	"strings"
	"time"
)

// Status — статус дефекта (колонка "Status (Vessel)").
type Status string

// Допустимые статусы дефекта.
const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN PROGRESS"
	StatusClosed     Status = "CLOSED"
)

// Valid проверяет, входит ли статус в закрытое перечисление.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Criticality — уровень критичности дефекта. Пустое значение — не задан.
type Criticality string

// Уровни критичности.
const (
	CriticalityHigh   Criticality = "High"
	CriticalityMedium Criticality = "Medium"
	CriticalityLow    Criticality = "Low"
)

// Valid проверяет уровень критичности (пустое значение допустимо).
func (c Criticality) Valid() bool {
	switch c {
	case "", CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// Collection — коллекция вложений дефекта.
type Collection string

// Коллекции вложений.
const (
	// CollectionInitial — файлы, приложенные при регистрации дефекта.
	CollectionInitial Collection = "initial"
	// CollectionCompletion — файлы, приложенные при закрытии дефекта.
	CollectionCompletion Collection = "completion"
)

// Valid проверяет имя коллекции.
func (c Collection) Valid() bool {
	return c == CollectionInitial || c == CollectionCompletion
}

// AttachedFile — ссылка на объект в хранилище.
// Байты файла принадлежат хранилищу, а не реестру.
type AttachedFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// IsImage сообщает, является ли файл изображением по MIME-типу.
func (f AttachedFile) IsImage() bool {
	return strings.HasPrefix(f.Type, "image/")
}

// Defect — запись реестра дефектов.
// JSON-имена полей совпадают с колонками таблицы "defects register".
type Defect struct {
	ID              int64          `json:"id"`
	VesselID        string         `json:"vessel_id"`
	VesselName      string         `json:"vessel_name"`
	Status          Status         `json:"Status (Vessel)"`
	Criticality     Criticality    `json:"Criticality"`
	Equipments      string         `json:"Equipments"`
	Description     string         `json:"Description"`
	ActionPlanned   string         `json:"Action Planned"`
	Comments        string         `json:"Comments"`
	ClosureComments string         `json:"closure_comments"`
	DateReported    string         `json:"Date Reported"`
	DateCompleted   string         `json:"Date Completed"`
	InitialFiles    []AttachedFile `json:"initial_files"`
	CompletionFiles []AttachedFile `json:"completion_files"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsClosed — true, если статус в точности "CLOSED".
func (d *Defect) IsClosed() bool {
	return d.Status == StatusClosed
}

// Files возвращает файлы указанной коллекции.
func (d *Defect) Files(c Collection) []AttachedFile {
	if c == CollectionCompletion {
		return d.CompletionFiles
	}
	return d.InitialFiles
}

// FindFile ищет файл по пути в обеих коллекциях.
func (d *Defect) FindFile(path string) (AttachedFile, Collection, bool) {
	for _, f := range d.InitialFiles {
		if f.Path == path {
			return f, CollectionInitial, true
		}
	}
	for _, f := range d.CompletionFiles {
		if f.Path == path {
			return f, CollectionCompletion, true
		}
	}
	return AttachedFile{}, "", false
}

// RemoveFile удаляет путь из той коллекции, которая его содержит.
// Вторая коллекция не изменяется. Возвращает коллекцию, из которой
// удалён файл, и false, если путь не найден.
func (d *Defect) RemoveFile(path string) (Collection, bool) {
	_, c, ok := d.FindFile(path)
	if !ok {
		return "", false
	}
	switch c {
	case CollectionInitial:
		d.InitialFiles = withoutPath(d.InitialFiles, path)
	case CollectionCompletion:
		d.CompletionFiles = withoutPath(d.CompletionFiles, path)
	}
	return c, true
}

// AddFile добавляет файл в коллекцию. Возвращает false, если путь
// уже присутствует в любой из коллекций.
func (d *Defect) AddFile(c Collection, f AttachedFile) bool {
	if _, _, exists := d.FindFile(f.Path); exists {
		return false
	}
	if c == CollectionCompletion {
		d.CompletionFiles = append(d.CompletionFiles, f)
	} else {
		d.InitialFiles = append(d.InitialFiles, f)
	}
	return true
}

// ImageFiles возвращает изображения из обеих коллекций (initial, затем completion).
func (d *Defect) ImageFiles() []AttachedFile {
	var images []AttachedFile
	for _, f := range d.InitialFiles {
		if f.IsImage() {
			images = append(images, f)
		}
	}
	for _, f := range d.CompletionFiles {
		if f.IsImage() {
			images = append(images, f)
		}
	}
	return images
}

// AllPaths возвращает пути всех вложений дефекта.
func (d *Defect) AllPaths() []string {
	paths := make([]string, 0, len(d.InitialFiles)+len(d.CompletionFiles))
	for _, f := range d.InitialFiles {
		paths = append(paths, f.Path)
	}
	for _, f := range d.CompletionFiles {
		paths = append(paths, f.Path)
	}
	return paths
}

// HasDuplicatePaths проверяет инвариант: путь встречается не более одного
// раза в объединении обеих коллекций.
func (d *Defect) HasDuplicatePaths() bool {
	seen := make(map[string]bool, len(d.InitialFiles)+len(d.CompletionFiles))
	for _, p := range d.AllPaths() {
		if seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}

// withoutPath возвращает новый срез без файлов с указанным путём.
func withoutPath(files []AttachedFile, path string) []AttachedFile {
	result := make([]AttachedFile, 0, len(files))
	for _, f := range files {
		if f.Path != path {
			result = append(result, f)
		}
	}
	return result
}

// Vessel — судно, к которому относятся дефекты.
type Vessel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

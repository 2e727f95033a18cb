package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Mehedi107/job-task/domain"
)

// taskRecord is the SQLite row for a task.
type taskRecord struct {
	ID          string `gorm:"primarykey;size:36"`
	Owner       string `gorm:"index;not null"`
	Title       string `gorm:"not null"`
	Description string
	Category    string `gorm:"size:32;not null"`
}

func (taskRecord) TableName() string { return "tasks" }

func (r taskRecord) toDomain() domain.Task {
	return domain.Task{
		ID:          r.ID,
		Owner:       r.Owner,
		Title:       r.Title,
		Description: r.Description,
		Category:    domain.Category(r.Category),
	}
}

type userRecord struct {
	Email string `gorm:"primarykey"`
	Name  string
	Photo string
}

func (userRecord) TableName() string { return "users" }

// SQLStore keeps tasks and users in a SQLite database through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore migrates the schema on db and returns a store using it.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&taskRecord{}, &userRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error) {
	task, err := domain.NewTask(title, description, category, owner)
	if err != nil {
		return domain.Task{}, err
	}
	task.ID = uuid.NewString()
	rec := taskRecord{
		ID:          task.ID,
		Owner:       task.Owner,
		Title:       task.Title,
		Description: task.Description,
		Category:    string(task.Category),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.Task{}, domain.Unavailable(err)
	}
	return task, nil
}

// ListTasks returns the owner's tasks in insertion order.
func (s *SQLStore) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, domain.Validation("owner is required")
	}
	var recs []taskRecord
	if err := s.db.WithContext(ctx).Where("owner = ?", owner).Order("rowid").Find(&recs).Error; err != nil {
		return nil, domain.Unavailable(err)
	}
	tasks := make([]domain.Task, 0, len(recs))
	for _, r := range recs {
		tasks = append(tasks, r.toDomain())
	}
	return tasks, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var rec taskRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Task{}, domain.TaskNotFound(id)
		}
		return domain.Task{}, domain.Unavailable(err)
	}
	return rec.toDomain(), nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	if err := fields.Validate(); err != nil {
		return domain.Task{}, err
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	fields.Apply(&task)
	if fields.IsEmpty() {
		return task, nil
	}

	changes := map[string]any{}
	if fields.Title != nil {
		changes["title"] = *fields.Title
	}
	if fields.Description != nil {
		changes["description"] = *fields.Description
	}
	if fields.Category != nil {
		changes["category"] = string(*fields.Category)
	}
	if fields.Owner != nil {
		changes["owner"] = *fields.Owner
	}
	res := s.db.WithContext(ctx).Model(&taskRecord{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return domain.Task{}, domain.Unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	return task, nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error) {
	task, err := s.GetTask(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DeleteResult{}, nil
	}
	if err != nil {
		return domain.DeleteResult{}, err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRecord{})
	if res.Error != nil {
		return domain.DeleteResult{}, domain.Unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.DeleteResult{}, nil
	}
	return domain.DeleteResult{DeletedCount: int(res.RowsAffected), Owner: task.Owner}, nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error) {
	if err := u.Validate(); err != nil {
		return domain.UpsertResult{}, err
	}
	var existing userRecord
	err := s.db.WithContext(ctx).First(&existing, "email = ?", u.Email).Error
	if err == nil {
		return domain.UpsertResult{User: domain.User{Email: existing.Email, Name: existing.Name, Photo: existing.Photo}}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UpsertResult{}, domain.Unavailable(err)
	}
	rec := userRecord{Email: u.Email, Name: u.Name, Photo: u.Photo}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.UpsertResult{}, domain.Unavailable(err)
	}
	return domain.UpsertResult{Created: true, User: u}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

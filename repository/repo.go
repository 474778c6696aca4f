package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Anson-y-chang/stream.io/constant"
	"github.com/Anson-y-chang/stream.io/entities"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrJobFinished is returned when a terminal transition is attempted on
	// a job that already reached a terminal state. The first transition
	// wins; later ones are rejected, never merged.
	ErrJobFinished = errors.New("job already in a terminal state")
)

type JobRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	Migrate() error
	CreateJob(ctx context.Context, job *entities.Job) error
	FindJobById(ctx context.Context, id string) (*entities.Job, error)
	ListJobs(ctx context.Context) ([]*entities.Job, error)
	UpdateJobMedia(ctx context.Context, id string, durationSeconds float64, thumbnailPath string) error
	CompleteJob(ctx context.Context, id string, manifestPath string, renditions []*entities.Rendition, completedAt time.Time) error
	FailJob(ctx context.Context, id string, completedAt time.Time) error
	DeleteJob(ctx context.Context, id string) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) JobRepository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

// NewRepoWithDB wraps an already opened gorm handle. Tests use this with an
// in-memory sqlite database.
func NewRepoWithDB(db *gorm.DB) JobRepository {
	return &repo{db: db}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Migrate() error {
	return r.db.AutoMigrate(&entities.Job{}, &entities.Rendition{})
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) CreateJob(ctx context.Context, job *entities.Job) error {
	return r.GetDB().WithContext(ctx).Create(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id string) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.GetDB().WithContext(ctx).
		Preload("Renditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("bitrate_kbps DESC")
		}).
		First(job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *repo) ListJobs(ctx context.Context) ([]*entities.Job, error) {
	var jobs []*entities.Job
	err := r.GetDB().WithContext(ctx).
		Preload("Renditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("bitrate_kbps DESC")
		}).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) UpdateJobMedia(ctx context.Context, id string, durationSeconds float64, thumbnailPath string) error {
	res := r.GetDB().WithContext(ctx).Model(&entities.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"duration_seconds": durationSeconds,
			"thumbnail_path":   thumbnailPath,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteJob moves a processing job to COMPLETED and records its manifest
// and renditions in one transaction, so readers never observe a manifest
// without its rendition set or vice versa. The status guard makes the
// terminal transition set-once.
func (r *repo) CompleteJob(ctx context.Context, id string, manifestPath string, renditions []*entities.Rendition, completedAt time.Time) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entities.Job{}).
			Where("id = ? AND status = ?", id, constant.JobStatusProcessing).
			Updates(map[string]interface{}{
				"status":        constant.JobStatusCompleted,
				"manifest_path": manifestPath,
				"completed_at":  completedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.transitionConflict(tx, id)
		}
		for _, rend := range renditions {
			rend.JobID = id
			if err := tx.Create(rend).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) FailJob(ctx context.Context, id string, completedAt time.Time) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entities.Job{}).
			Where("id = ? AND status = ?", id, constant.JobStatusProcessing).
			Updates(map[string]interface{}{
				"status":       constant.JobStatusFailed,
				"completed_at": completedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.transitionConflict(tx, id)
		}
		return nil
	})
}

func (r *repo) DeleteJob(ctx context.Context, id string) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&entities.Rendition{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&entities.Job{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *repo) transitionConflict(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&entities.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrJobFinished
}

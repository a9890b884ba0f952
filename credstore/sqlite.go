package credstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*SQLiteStore)(nil)

// Credential is one persisted credential row.
type Credential struct {
	Name      string `gorm:"primaryKey;size:32"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (Credential) TableName() string {
	return "credentials"
}

// SQLiteStore keeps credentials in a gorm managed table.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLite migrates the credentials table on db.
func NewSQLite(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("[NewSQLite] database handle required")
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, errors.Wrap(err, "[NewSQLite] AutoMigrate")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (string, error) {
	var row Credential
	err := s.db.WithContext(ctx).Where("name = ?", string(key)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[SQLiteStore.Get]")
	}
	return row.Value, nil
}

func (s *SQLiteStore) Save(ctx context.Context, values map[Key]string) error {
	if len(values) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			row := &Credential{Name: string(k), Value: v}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "[SQLiteStore.Save]")
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, string(k))
	}
	return errors.Wrap(s.db.WithContext(ctx).Where("name IN ?", names).Delete(&Credential{}).Error, "[SQLiteStore.Delete]")
}

func (s *SQLiteStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "[SQLiteStore.Close]")
	}
	return sqlDB.Close()
}

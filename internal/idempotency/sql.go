package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is a row of the idempotency_keys table.
type Record struct {
	Key       string     `gorm:"column:idem_key;primaryKey;size:255"`
	Value     string     `gorm:"column:value;type:text;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	CreatedAt time.Time  `gorm:"column:created_at"`
}

func (Record) TableName() string { return "idempotency_keys" }

type sqlClient interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SQLStore persists keys in a relational table so claims survive restarts.
type SQLStore struct {
	client sqlClient
	db     *gorm.DB
	now    func() time.Time
}

func NewSQLStore(client sqlClient) (*SQLStore, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("db is required")
	}
	return &SQLStore{client: client, db: client.DB(), now: time.Now}, nil
}

// Models lists the tables SQLStore needs migrated.
func Models() []any {
	return []any{&Record{}}
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("idem_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if rec.ExpiresAt != nil && !s.now().Before(*rec.ExpiresAt) {
		return "", false, nil
	}
	return rec.Value, true, nil
}

func (s *SQLStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.now()
	var inserted bool
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		// An expired row must not block a fresh claim.
		if err := tx.Where("idem_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now).
			Delete(&Record{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(s.record(key, value, ttl, now))
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idem_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(s.record(key, value, ttl, s.now())).Error
}

func (s *SQLStore) Del(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("idem_key = ?", key).Delete(&Record{}).Error
}

// Purge removes expired rows.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).Delete(&Record{})
	return res.RowsAffected, res.Error
}

func (s *SQLStore) record(key, value string, ttl time.Duration, now time.Time) *Record {
	rec := &Record{Key: key, Value: value, CreatedAt: now}
	if exp := expiry(now, ttl); !exp.IsZero() {
		rec.ExpiresAt = &exp
	}
	return rec
}

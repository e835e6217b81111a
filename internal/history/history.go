// Package history persists a record of every sent and received transfer.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound         = errors.New("history: transfer not found")
	ErrInvalidDirection = errors.New("history: invalid direction")
)

const DefaultListLimit = 50

// Transfer is one row of transfer history.
type Transfer struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Direction  Direction `gorm:"index;size:16" json:"direction"`
	Name       string    `json:"name"`
	Size       uint64    `json:"size"`
	Digest     string    `gorm:"index;size:64" json:"sha256_hex"`
	Peer       string    `json:"peer"`
	Path       string    `json:"path,omitempty"`
	Status     Status    `gorm:"size:16" json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time the transfer took.
func (t Transfer) Duration() time.Duration {
	if t.FinishedAt.IsZero() || t.StartedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Recorder accepts finished transfers.
type Recorder interface {
	Record(ctx context.Context, t Transfer) error
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	Direction Direction
	Limit     int
}

func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case DirectionSent:
		return DirectionSent, nil
	case DirectionReceived:
		return DirectionReceived, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// Store is a SQLite-backed Recorder.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, t Transfer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Direction != DirectionSent && t.Direction != DirectionReceived {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, t.Direction)
	}
	if t.FinishedAt.IsZero() {
		t.FinishedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return fmt.Errorf("history: record %s: %w", t.ID, err)
	}
	return nil
}

// List returns the newest transfers first.
func (s *Store) List(ctx context.Context, f Filter) ([]Transfer, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := s.db.WithContext(ctx).Order("started_at desc").Limit(limit)
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}
	var out []Transfer
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Transfer, error) {
	var t Transfer
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Transfer{}, ErrNotFound
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("history: get %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

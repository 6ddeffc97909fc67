package store

import (
	"fmt"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type personRow struct {
	ID             string `gorm:"primaryKey;size:32"`
	Position       int    `gorm:"not null;index"`
	DisplayName    string `gorm:"not null"`
	BaselineScore  int    `gorm:"not null"`
	ReferenceImage []byte `gorm:"type:bytea"`
	EnrolledAt     int64  `gorm:"not null"`
}

func (personRow) TableName() string { return "people" }

type eventRow struct {
	ID          string  `gorm:"primaryKey;size:64"`
	Position    int64   `gorm:"not null;index"`
	PersonID    string  `gorm:"not null;index"`
	DisplayName string  `gorm:"not null"`
	OccurredAt  int64   `gorm:"not null"`
	Period      int     `gorm:"not null"`
	Confidence  float64 `gorm:"not null"`
	Status      string  `gorm:"not null"`
}

func (eventRow) TableName() string { return "attendance_events" }

// PostgresStore keeps the roster and the ledger in Postgres. Both are
// append-only, so saves insert rows that are not there yet.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and migrates the tables.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&personRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveRoster(people []schema.Person) error {
	if len(people) == 0 {
		return nil
	}
	rows := make([]personRow, len(people))
	for i, p := range people {
		rows[i] = personRow{
			ID:             p.ID,
			Position:       i,
			DisplayName:    p.DisplayName,
			BaselineScore:  p.BaselineScore,
			ReferenceImage: p.ReferenceImage,
			EnrolledAt:     p.EnrolledAt,
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100).Error
	})
}

func (s *PostgresStore) LoadRoster() ([]schema.Person, error) {
	var rows []personRow
	if err := s.db.Order("position asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	people := make([]schema.Person, len(rows))
	for i, r := range rows {
		people[i] = schema.Person{
			ID:             r.ID,
			DisplayName:    r.DisplayName,
			BaselineScore:  r.BaselineScore,
			ReferenceImage: r.ReferenceImage,
			EnrolledAt:     r.EnrolledAt,
		}
	}
	return people, nil
}

func (s *PostgresStore) SaveLedger(events []schema.AttendanceEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, len(events))
	for i, e := range events {
		rows[i] = eventRow{
			ID:          e.ID,
			Position:    int64(i),
			PersonID:    e.PersonID,
			DisplayName: e.DisplayName,
			OccurredAt:  e.OccurredAt,
			Period:      e.Period,
			Confidence:  e.Confidence,
			Status:      string(e.Status),
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 200).Error
	})
}

func (s *PostgresStore) LoadLedger() ([]schema.AttendanceEvent, error) {
	var rows []eventRow
	if err := s.db.Order("position asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]schema.AttendanceEvent, len(rows))
	for i, r := range rows {
		events[i] = schema.AttendanceEvent{
			ID:          r.ID,
			PersonID:    r.PersonID,
			DisplayName: r.DisplayName,
			OccurredAt:  r.OccurredAt,
			Period:      r.Period,
			Confidence:  r.Confidence,
			Status:      schema.Status(r.Status),
		}
	}
	return events, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

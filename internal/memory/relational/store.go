// Package relational implements the per-persona durable key/record store
// (component C2): the source of truth for every memory, backed by SQLite
// through gorm. The vector index (package vector) is a derived, eventually
// consistent view over the same data.
package relational

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
)

// memoryRow is the gorm-mapped schema. Column additions here are the
// canonical list that Open's migration step reconciles existing databases
// against (see Migrate).
type memoryRow struct {
	Key                string    `gorm:"primaryKey"`
	Content            string    `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null;index:idx_created_at"`
	UpdatedAt          time.Time `gorm:"not null"`
	Tags               string    `gorm:"not null;default:'[]'"`
	Importance         float64   `gorm:"not null;default:0.5"`
	Emotion            string    `gorm:"not null;default:neutral"`
	PhysicalState      string    `gorm:"not null;default:normal"`
	MentalState        string    `gorm:"not null;default:calm"`
	Environment        string    `gorm:"not null;default:unknown"`
	RelationshipStatus string    `gorm:"not null;default:normal"`
	ActionTag          *string
}

func (memoryRow) TableName() string { return "memories" }

// Store is the gorm/SQLite-backed RelationalStore for one persona.
type Store struct {
	db      *gorm.DB
	persona string
}

// Open opens (creating if necessary) the SQLite database at path and runs
// the idempotent schema migration described in spec.md §4.2.
func Open(persona, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errkind.Wrap(err, errkind.DataStore, "create persona data directory").
				WithComponent("relational.Store").WithOperation("Open").WithContext("persona", persona)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "open relational store").
			WithComponent("relational.Store").WithOperation("Open").WithContext("persona", persona)
	}

	s := &Store{db: db, persona: persona}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// migrate adds any columns missing from an older schema version and
// backfills them with the documented default, per spec.md §4.2. AutoMigrate
// itself is idempotent; the backfill UPDATE only touches newly-null rows so
// it is also safe to run on every Open.
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&memoryRow{}); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "migrate schema").
			WithComponent("relational.Store").WithOperation("migrate")
	}

	defaults := map[string]any{
		"tags":                "[]",
		"importance":          model.DefaultImportance,
		"emotion":             model.DefaultEmotion,
		"physical_state":      model.DefaultPhysicalState,
		"mental_state":        model.DefaultMentalState,
		"environment":         model.DefaultEnvironment,
		"relationship_status": model.DefaultRelationshipStatus,
	}
	for col, def := range defaults {
		if err := s.db.Table("memories").
			Where(fmt.Sprintf("%s IS NULL", col)).
			Update(col, def).Error; err != nil {
			logger.Warnf("relational store: backfill of column %s failed for persona %s: %v", col, s.persona, err)
		}
	}
	return nil
}

func toRow(m *model.Memory) (*memoryRow, error) {
	tagsJSON, err := json.Marshal(model.TagSlice(m.Tags))
	if err != nil {
		return nil, err
	}
	return &memoryRow{
		Key:                m.Key,
		Content:             m.Content,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
		Tags:                string(tagsJSON),
		Importance:          m.Importance,
		Emotion:             m.Emotion,
		PhysicalState:       m.PhysicalState,
		MentalState:         m.MentalState,
		Environment:         m.Environment,
		RelationshipStatus:  m.RelationshipStatus,
		ActionTag:           m.ActionTag,
	}, nil
}

func fromRow(r *memoryRow) *model.Memory {
	var tags []string
	_ = json.Unmarshal([]byte(r.Tags), &tags)
	return &model.Memory{
		Key:                r.Key,
		Content:             r.Content,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		Tags:                model.TagSet(tags),
		Importance:          r.Importance,
		Emotion:             r.Emotion,
		PhysicalState:       r.PhysicalState,
		MentalState:         r.MentalState,
		Environment:         r.Environment,
		RelationshipStatus:  r.RelationshipStatus,
		ActionTag:           r.ActionTag,
	}
}

// Put inserts or replaces a memory by key.
func (s *Store) Put(ctx context.Context, m *model.Memory) error {
	row, err := toRow(m)
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal memory").WithComponent("relational.Store").WithOperation("Put")
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return errkind.Wrap(err, errkind.DataStore, "put memory").
			WithComponent("relational.Store").WithOperation("Put").WithContext("key", m.Key)
	}
	return nil
}

// Get returns the memory for key, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, key string) (*model.Memory, error) {
	var row memoryRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "get memory").
			WithComponent("relational.Store").WithOperation("Get").WithContext("key", key)
	}
	return fromRow(&row), nil
}

// Delete removes a memory by key. Returns false if it did not exist.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&memoryRow{}, "key = ?", key)
	if res.Error != nil {
		return false, errkind.Wrap(res.Error, errkind.DataStore, "delete memory").
			WithComponent("relational.Store").WithOperation("Delete").WithContext("key", key)
	}
	return res.RowsAffected > 0, nil
}

// List returns up to limit memories ordered by created_at desc, starting at offset.
func (s *Store) List(ctx context.Context, offset, limit int) ([]*model.Memory, error) {
	var rows []memoryRow
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "list memories").
			WithComponent("relational.Store").WithOperation("List")
	}
	out := make([]*model.Memory, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

// Count returns the total number of memories for this persona.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&memoryRow{}).Count(&n).Error; err != nil {
		return 0, errkind.Wrap(err, errkind.DataStore, "count memories").
			WithComponent("relational.Store").WithOperation("Count")
	}
	return n, nil
}

// Stats composes the statistics report described in spec.md §4.2.
type Stats struct {
	Count             int64
	TotalChars        int64
	Earliest          *time.Time
	Latest            *time.Time
	TagHistogram      map[string]int
	EmotionHistogram  map[string]int
	ImportanceBuckets map[string]int
}

// Stats computes aggregate statistics by scanning the persona's memories.
// SQLite datasets at this scale (personal-assistant memory stores, not
// bulk document corpora) make a full scan acceptable; see DESIGN.md.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TagHistogram:      make(map[string]int),
		EmotionHistogram:  make(map[string]int),
		ImportanceBuckets: make(map[string]int),
	}
	st.Count = int64(len(rows))
	for _, m := range rows {
		st.TotalChars += int64(len(m.Content))
		if st.Earliest == nil || m.CreatedAt.Before(*st.Earliest) {
			t := m.CreatedAt
			st.Earliest = &t
		}
		if st.Latest == nil || m.CreatedAt.After(*st.Latest) {
			t := m.CreatedAt
			st.Latest = &t
		}
		for tag := range m.Tags {
			st.TagHistogram[tag]++
		}
		st.EmotionHistogram[m.Emotion]++
		st.ImportanceBuckets[importanceBucket(m.Importance)]++
	}
	return st, nil
}

func importanceBucket(i float64) string {
	switch {
	case i < 0.25:
		return "low"
	case i < 0.5:
		return "moderate"
	case i < 0.75:
		return "high"
	default:
		return "critical"
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Package sqlstore stores mind maps in PostgreSQL or SQLite through gorm.
//
// Each mind map is one row. The graph (nodes, links, comments) and the access
// list are JSON columns, so a snapshot write is a single UPDATE.
package sqlstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/errors"
)

// Dialects accepted by Open.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type mindmapRecord struct {
	ID             string                                           `gorm:"primaryKey;size:64"`
	Title          string                                           `gorm:"size:255;not null"`
	Description    string                                           `gorm:"type:text"`
	Owner          string                                           `gorm:"size:64;not null;index"`
	IsPublic       bool                                             `gorm:"not null;default:false"`
	Nodes          datatypes.JSONType[[]mindmap.Node]               `gorm:"not null"`
	Links          datatypes.JSONType[[]mindmap.Link]               `gorm:"not null"`
	Comments       datatypes.JSONType[map[string][]mindmap.Comment] `gorm:"not null"`
	Collaborators  datatypes.JSONType[[]mindmap.Collaborator]       `gorm:"not null"`
	CreatedAt      time.Time                                        `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time                                        `gorm:"autoUpdateTime:false"`
	LastModifiedBy string                                           `gorm:"size:64"`
}

func (mindmapRecord) TableName() string { return "mindmaps" }

func (r mindmapRecord) toDocument() *mindmap.Document {
	doc := &mindmap.Document{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		Nodes:          r.Nodes.Data(),
		Links:          r.Links.Data(),
		Comments:       r.Comments.Data(),
		Owner:          r.Owner,
		Collaborators:  r.Collaborators.Data(),
		IsPublic:       r.IsPublic,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		LastModifiedBy: r.LastModifiedBy,
	}
	if doc.Nodes == nil {
		doc.Nodes = []mindmap.Node{}
	}
	if doc.Links == nil {
		doc.Links = []mindmap.Link{}
	}
	if doc.Comments == nil {
		doc.Comments = map[string][]mindmap.Comment{}
	}
	if doc.Collaborators == nil {
		doc.Collaborators = []mindmap.Collaborator{}
	}
	return doc
}

func fromDocument(doc *mindmap.Document) mindmapRecord {
	return mindmapRecord{
		ID:             doc.ID,
		Title:          doc.Title,
		Description:    doc.Description,
		Owner:          doc.Owner,
		IsPublic:       doc.IsPublic,
		Nodes:          datatypes.NewJSONType(doc.Nodes),
		Links:          datatypes.NewJSONType(doc.Links),
		Comments:       datatypes.NewJSONType(doc.Comments),
		Collaborators:  datatypes.NewJSONType(doc.Collaborators),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		LastModifiedBy: doc.LastModifiedBy,
	}
}

// Store implements persistence.DocumentStore and persistence.UserDirectory.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database and migrates the schema.
func Open(dialect, dsn string, log *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	return New(db, log)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&mindmapRecord{}, &user.User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new mind map.
func (s *Store) Create(ctx context.Context, doc *mindmap.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	record := fromDocument(doc)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return s.storageError("Create", doc.ID, err)
	}
	return nil
}

// Fetch reads a mind map.
func (s *Store) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	var record mindmapRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound(errors.CodeMindmapNotFound, "mindmap not found").
			WithResource("mindmap").
			WithDetails(id).
			Build()
	}
	if err != nil {
		return nil, s.storageError("Fetch", id, err)
	}
	return record.toDocument(), nil
}

// Replace writes the snapshot columns of an existing mind map.
func (s *Store) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	if snap.Nodes == nil {
		snap.Nodes = []mindmap.Node{}
	}
	if snap.Links == nil {
		snap.Links = []mindmap.Link{}
	}
	if snap.Comments == nil {
		snap.Comments = map[string][]mindmap.Comment{}
	}

	result := s.db.WithContext(ctx).
		Model(&mindmapRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"nodes":            datatypes.NewJSONType(snap.Nodes),
			"links":            datatypes.NewJSONType(snap.Links),
			"comments":         datatypes.NewJSONType(snap.Comments),
			"is_public":        snap.IsPublic,
			"updated_at":       snap.UpdatedAt,
			"last_modified_by": snap.LastModifiedBy,
		})
	if result.Error != nil {
		return s.storageError("Replace", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound(errors.CodeMindmapNotFound, "mindmap not found").
			WithResource("mindmap").
			WithDetails(id).
			Build()
	}
	s.logger.Debug("Replaced mindmap content",
		zap.String("mindmapID", id),
		zap.Int("nodes", len(snap.Nodes)),
	)
	return nil
}

// UpdateAccess changes the owner-managed access list.
func (s *Store) UpdateAccess(ctx context.Context, id string, collaborators []mindmap.Collaborator, public bool) error {
	if collaborators == nil {
		collaborators = []mindmap.Collaborator{}
	}
	result := s.db.WithContext(ctx).
		Model(&mindmapRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"collaborators": datatypes.NewJSONType(collaborators),
			"is_public":     public,
		})
	if result.Error != nil {
		return s.storageError("UpdateAccess", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound(errors.CodeMindmapNotFound, "mindmap not found").WithDetails(id).Build()
	}
	return nil
}

// PutUser inserts or updates a user profile.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := s.db.WithContext(ctx).Save(&u).Error; err != nil {
		return s.storageError("PutUser", u.ID, err)
	}
	return nil
}

// FetchUser reads a user profile.
func (s *Store) FetchUser(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&u).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound(errors.CodeUserNotFound, "user not found").
			WithResource("user").
			WithDetails(id).
			Build()
	}
	if err != nil {
		return nil, s.storageError("FetchUser", id, err)
	}
	return &u, nil
}

func (s *Store) storageError(operation, id string, err error) error {
	return errors.Persistence(errors.CodePersistenceFailed, fmt.Sprintf("sql %s failed", operation)).
		WithOperation(operation).
		WithResource(id).
		WithCause(err).
		Build()
}

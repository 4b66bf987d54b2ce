package content

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/meridianweb/siteops/internal/config"
)

// SlugEntry is the projection the sitemap needs from any collection: the
// public slug and the last-modified timestamp, nothing else.
type SlugEntry struct {
	Slug      string
	UpdatedAt time.Time
}

// Collection pairs a model with the public URL subtree its documents live
// under.
type Collection struct {
	Name     string
	BasePath string
	Model    any
}

// Collections lists every content type that contributes sitemap entries, in
// the fixed order the generator emits them.
func Collections() []Collection {
	return []Collection{
		{Name: "blogs", BasePath: "/blog", Model: &BlogPost{}},
		{Name: "projects", BasePath: "/projects", Model: &Project{}},
		{Name: "services", BasePath: "/services", Model: &Service{}},
		{Name: "team", BasePath: "/team", Model: &TeamMember{}},
		{Name: "construction-services", BasePath: "/construction-services", Model: &ConstructionService{}},
	}
}

// Open connects to the content database using the configured driver.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("content: unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// AutoMigrate creates the collection tables. The CMS owns the schema in
// production; this exists for local development and test databases.
func AutoMigrate(db *gorm.DB) error {
	models := make([]any, 0, len(Collections()))
	for _, collection := range Collections() {
		models = append(models, collection.Model)
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("content: migrate: %w", err)
	}
	return nil
}

// Repository exposes the read-only queries the subsystem needs.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PublishedSlugs projects the published documents of one collection down to
// sitemap entries, ordered by slug so repeated runs emit identical output
// for unchanged data.
func (r *Repository) PublishedSlugs(ctx context.Context, collection Collection) ([]SlugEntry, error) {
	var entries []SlugEntry
	err := r.db.WithContext(ctx).
		Model(collection.Model).
		Select("slug", "updated_at").
		Where("published = ?", true).
		Order("slug asc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("content: list %s slugs: %w", collection.Name, err)
	}
	return entries, nil
}

// ListPublished loads the published documents of one collection into dest,
// newest first. dest must be a pointer to a slice of the collection's model.
func (r *Repository) ListPublished(ctx context.Context, dest any) error {
	err := r.db.WithContext(ctx).
		Where("published = ?", true).
		Order("updated_at desc").
		Find(dest).Error
	if err != nil {
		return fmt.Errorf("content: list published: %w", err)
	}
	return nil
}

// FindBySlug loads one published document by slug into dest. gorm's
// ErrRecordNotFound passes through so callers can map it to a 404.
func (r *Repository) FindBySlug(ctx context.Context, slug string, dest any) error {
	return r.db.WithContext(ctx).
		Where("slug = ? AND published = ?", slug, true).
		First(dest).Error
}

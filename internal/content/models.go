// Package content models the CMS collections the operational subsystem
// reads: published slugs and timestamps for the sitemap, and list/detail
// projections for the public read endpoints the cache fronts. Writes stay
// with the CMS proper.
package content

import "time"

// BlogPost is a published article on the marketing site.
type BlogPost struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Title     string `json:"title"`
	Slug      string `gorm:"uniqueIndex" json:"slug"`
	Excerpt   string `json:"excerpt"`
	Published bool   `gorm:"index" json:"published"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Project is a portfolio entry.
type Project struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Title     string `json:"title"`
	Slug      string `gorm:"uniqueIndex" json:"slug"`
	Summary   string `json:"summary"`
	Published bool   `gorm:"index" json:"published"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Service is one offered service.
type Service struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Title     string `json:"title"`
	Slug      string `gorm:"uniqueIndex" json:"slug"`
	Summary   string `json:"summary"`
	Published bool   `gorm:"index" json:"published"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TeamMember is a public team profile.
type TeamMember struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `json:"name"`
	Slug      string `gorm:"uniqueIndex" json:"slug"`
	Role      string `json:"role"`
	Published bool   `gorm:"index" json:"published"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConstructionService is the specialized construction offering catalog.
type ConstructionService struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Title     string `json:"title"`
	Slug      string `gorm:"uniqueIndex" json:"slug"`
	Summary   string `json:"summary"`
	Published bool   `gorm:"index" json:"published"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

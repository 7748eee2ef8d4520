package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Link représente un lien raccourci dans la base de données.
// The fingerprint is unique among rows whose deleted_at is NULL; the partial
// index is what lets concurrent creations converge on a single row.
type Link struct {
	ID                 uint64  `gorm:"primaryKey;autoIncrement"`
	Salt               string  `gorm:"size:4;not null"`
	IOSDeepLink        *string `gorm:"type:text"`
	IOSFallbackURL     *string `gorm:"type:text"`
	AndroidDeepLink    *string `gorm:"type:text"`
	AndroidFallbackURL *string `gorm:"type:text"`
	DefaultFallbackURL string  `gorm:"type:text;not null"`
	Fingerprint        string  `gorm:"size:32;not null;uniqueIndex:idx_links_fingerprint_active,where:deleted_at IS NULL"`
	WebhookURL         *string `gorm:"type:text"`
	OGTitle            *string `gorm:"size:255"`
	OGDescription      *string `gorm:"size:500"`
	OGImageURL         *string `gorm:"type:text"`
	IsActive           bool    `gorm:"not null;default:true"`

	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName implements the GORM tabler interface.
func (Link) TableName() string { return "links" }

// Projection returns the cacheable part of the link.
func (l *Link) Projection() *LinkProjection {
	return &LinkProjection{
		ID:                 l.ID,
		Salt:               l.Salt,
		IOSDeepLink:        l.IOSDeepLink,
		IOSFallbackURL:     l.IOSFallbackURL,
		AndroidDeepLink:    l.AndroidDeepLink,
		AndroidFallbackURL: l.AndroidFallbackURL,
		DefaultFallbackURL: l.DefaultFallbackURL,
		WebhookURL:         l.WebhookURL,
		OGTitle:            l.OGTitle,
		OGDescription:      l.OGDescription,
		OGImageURL:         l.OGImageURL,
		IsActive:           l.IsActive,
	}
}

// LinkProjection is everything a redirect needs: the link minus its
// fingerprint and timestamps. It is what the resolution cache stores.
type LinkProjection struct {
	ID                 uint64  `codec:"id"`
	Salt               string  `codec:"salt"`
	IOSDeepLink        *string `codec:"ios_deep_link"`
	IOSFallbackURL     *string `codec:"ios_fallback_url"`
	AndroidDeepLink    *string `codec:"android_deep_link"`
	AndroidFallbackURL *string `codec:"android_fallback_url"`
	DefaultFallbackURL string  `codec:"default_fallback_url"`
	WebhookURL         *string `codec:"webhook_url"`
	OGTitle            *string `codec:"og_title"`
	OGDescription      *string `codec:"og_description"`
	OGImageURL         *string `codec:"og_image_url"`
	IsActive           bool    `codec:"is_active"`
}

// LinkDraft holds validated creation input. Empty strings mean "absent".
type LinkDraft struct {
	IOSDeepLink        string
	IOSFallbackURL     string
	AndroidDeepLink    string
	AndroidFallbackURL string
	DefaultFallbackURL string
	WebhookURL         string
	OGTitle            string
	OGDescription      string
	OGImageURL         string
}

// FingerprintFields returns the fields that decide whether two drafts
// describe the same link, in hashing order.
func (d LinkDraft) FingerprintFields() []string {
	return []string{
		d.IOSDeepLink,
		d.IOSFallbackURL,
		d.AndroidDeepLink,
		d.AndroidFallbackURL,
		d.DefaultFallbackURL,
	}
}

// ToLink builds an active, unsaved Link from the draft.
func (d LinkDraft) ToLink(salt, fingerprint string) *Link {
	return &Link{
		Salt:               salt,
		IOSDeepLink:        Optional(d.IOSDeepLink),
		IOSFallbackURL:     Optional(d.IOSFallbackURL),
		AndroidDeepLink:    Optional(d.AndroidDeepLink),
		AndroidFallbackURL: Optional(d.AndroidFallbackURL),
		DefaultFallbackURL: d.DefaultFallbackURL,
		Fingerprint:        fingerprint,
		WebhookURL:         Optional(d.WebhookURL),
		OGTitle:            Optional(d.OGTitle),
		OGDescription:      Optional(d.OGDescription),
		OGImageURL:         Optional(d.OGImageURL),
		IsActive:           true,
	}
}

// Optional maps blank strings to nil.
func Optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

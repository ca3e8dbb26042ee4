package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuthorMetadata is the canonical merged author record built from external
// provider data. Catalog authors are bound to it through AuthorMapping rows;
// duplicate records are folded into one another by the merge engine.
type AuthorMetadata struct {
	bun.BaseModel `bun:"table:author_metadata,alias:am"`

	ID             int        `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Name           string     `bun:",nullzero" json:"name"`
	SortName       string     `json:"sort_name"`
	OpenLibraryKey *string    `bun:"openlibrary_key" json:"openlibrary_key,omitempty"` // unique when present
	Biography      *string    `json:"biography,omitempty"`
	BirthDate      *string    `json:"birth_date,omitempty"`
	DeathDate      *string    `json:"death_date,omitempty"`
	WorkCount      int        `json:"work_count"`
	RatingsCount   int        `json:"ratings_count"`
	AverageRating  *float64   `json:"average_rating,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`

	RemoteIDs      []*AuthorRemoteID  `bun:"rel:has-many,join:id=author_id" json:"remote_ids,omitempty"`
	Photos         []*AuthorPhoto     `bun:"rel:has-many,join:id=author_id" json:"photos,omitempty"`
	AlternateNames []*AlternateName   `bun:"rel:has-many,join:id=author_id" json:"alternate_names,omitempty"`
	Links          []*AuthorLink      `bun:"rel:has-many,join:id=author_id" json:"links,omitempty"`
	Works          []*AuthorWork      `bun:"rel:has-many,join:id=author_id" json:"works,omitempty"`
	UserMetadata   *AuthorUserMeta    `bun:"rel:has-one,join:id=author_id" json:"user_metadata,omitempty"`
	UserPhotos     []*AuthorUserPhoto `bun:"rel:has-many,join:id=author_id" json:"user_photos,omitempty"`
}

// Remote identifier type constants.
const (
	RemoteIDTypeOpenLibrary  = "openlibrary"
	RemoteIDTypeVIAF         = "viaf"
	RemoteIDTypeWikidata     = "wikidata"
	RemoteIDTypeGoodreads    = "goodreads"
	RemoteIDTypeISNI         = "isni"
	RemoteIDTypeLibraryThing = "librarything"
	RemoteIDTypeAmazon       = "amazon"
)

// AuthorRemoteID is an external identifier for an author. Unique per
// (author_id, id_type).
type AuthorRemoteID struct {
	bun.BaseModel `bun:"table:author_remote_ids,alias:rid"`

	ID       int    `bun:",pk,nullzero" json:"id"`
	AuthorID int    `bun:",nullzero" json:"author_id"`
	IDType   string `bun:",nullzero" json:"id_type"`
	Value    string `bun:",nullzero" json:"value"`
}

// AuthorPhoto is a provider photo reference. At most one photo per author is
// primary.
type AuthorPhoto struct {
	bun.BaseModel `bun:"table:author_photos,alias:ph"`

	ID            int     `bun:",pk,nullzero" json:"id"`
	AuthorID      int     `bun:",nullzero" json:"author_id"`
	RemotePhotoID *string `json:"remote_photo_id,omitempty"`
	URL           string  `bun:",nullzero" json:"url"`
	IsPrimary     bool    `json:"is_primary"`
}

// DedupKey is the identity used when merging photo collections: the provider
// photo id when present, otherwise the URL.
func (p *AuthorPhoto) DedupKey() string {
	if p.RemotePhotoID != nil && *p.RemotePhotoID != "" {
		return *p.RemotePhotoID
	}
	return p.URL
}

// AlternateName is an alias or variant spelling for an author, deduplicated
// by exact string.
type AlternateName struct {
	bun.BaseModel `bun:"table:alternate_names,alias:an"`

	ID       int    `bun:",pk,nullzero" json:"id"`
	AuthorID int    `bun:",nullzero" json:"author_id"`
	Name     string `bun:",nullzero" json:"name"`
}

// AuthorLink is an external web link for an author, deduplicated by URL.
type AuthorLink struct {
	bun.BaseModel `bun:"table:author_links,alias:al"`

	ID       int    `bun:",pk,nullzero" json:"id"`
	AuthorID int    `bun:",nullzero" json:"author_id"`
	Title    string `json:"title"`
	URL      string `bun:",nullzero" json:"url"`
}

// AuthorUserMeta holds user-edited overrides for an author. These always win
// over provider data in the UI and survive merges.
type AuthorUserMeta struct {
	bun.BaseModel `bun:"table:author_user_metadata,alias:um"`

	ID        int     `bun:",pk,nullzero" json:"id"`
	AuthorID  int     `bun:",nullzero" json:"author_id"`
	Name      *string `json:"name,omitempty"`
	Biography *string `json:"biography,omitempty"`
}

// AuthorUserPhoto is a user-uploaded photo, deduplicated by filename.
type AuthorUserPhoto struct {
	bun.BaseModel `bun:"table:author_user_photos,alias:up"`

	ID       int    `bun:",pk,nullzero" json:"id"`
	AuthorID int    `bun:",nullzero" json:"author_id"`
	Filename string `bun:",nullzero" json:"filename"`
}

package metadata

// AuthorSummary is a single author search result.
type AuthorSummary struct {
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	AlternateNames []string `json:"alternate_names,omitempty"`
	BirthDate      string   `json:"birth_date,omitempty"`
	DeathDate      string   `json:"death_date,omitempty"`
	TopWork        string   `json:"top_work,omitempty"`
	WorkCount      int      `json:"work_count"`
	RatingsCount   int      `json:"ratings_count"`
}

// Link is an external web link attached to an author record.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// AuthorDetail is a full author record from the provider.
type AuthorDetail struct {
	Key            string            `json:"key"`
	Name           string            `json:"name"`
	Biography      string            `json:"biography,omitempty"`
	BirthDate      string            `json:"birth_date,omitempty"`
	DeathDate      string            `json:"death_date,omitempty"`
	AlternateNames []string          `json:"alternate_names,omitempty"`
	PhotoURLs      []string          `json:"photo_urls,omitempty"`
	Links          []Link            `json:"links,omitempty"`
	RemoteIDs      map[string]string `json:"remote_ids,omitempty"`
	WorkCount      int               `json:"work_count"`
	RatingsCount   int               `json:"ratings_count"`
	AverageRating  *float64          `json:"average_rating,omitempty"`
}

// Work is one work belonging to an author.
type Work struct {
	Key            string   `json:"key"`
	Title          string   `json:"title"`
	Subjects       []string `json:"subjects,omitempty"`
	FirstPublished *int     `json:"first_published,omitempty"`
	RatingsCount   int      `json:"ratings_count"`
	AverageRating  *float64 `json:"average_rating,omitempty"`
}

// BookSummary is a single book search result.
type BookSummary struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    *int     `json:"year,omitempty"`
}

// BookDetail is a full book record from the provider.
type BookDetail struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
	Year        *int     `json:"year,omitempty"`
}

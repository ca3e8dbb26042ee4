package openlibrary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const defaultBaseURL = "https://openlibrary.org"

// Client is an OpenLibrary-shaped implementation of metadata.Provider.
// Requests are retried with backoff when the provider is unavailable or rate
// limiting; retries are bounded so one slow author can't stall a batch.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	retryAttempts uint
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithRetryAttempts(attempts uint) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		retryAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return "openlibrary"
}

func (c *Client) SearchAuthors(ctx context.Context, name string, limit int) ([]*metadata.AuthorSummary, error) {
	q := url.Values{}
	q.Set("q", name)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	var resp struct {
		Docs []struct {
			Key            string   `json:"key"`
			Name           string   `json:"name"`
			AlternateNames []string `json:"alternate_names"`
			BirthDate      string   `json:"birth_date"`
			DeathDate      string   `json:"death_date"`
			TopWork        string   `json:"top_work"`
			WorkCount      int      `json:"work_count"`
			RatingsCount   int      `json:"ratings_count"`
		} `json:"docs"`
	}
	err := c.getJSON(ctx, "/search/authors.json?"+q.Encode(), &resp)
	if err != nil {
		return nil, err
	}

	summaries := make([]*metadata.AuthorSummary, 0, len(resp.Docs))
	for _, doc := range resp.Docs {
		summaries = append(summaries, &metadata.AuthorSummary{
			Key:            strings.TrimPrefix(doc.Key, "/authors/"),
			Name:           doc.Name,
			AlternateNames: doc.AlternateNames,
			BirthDate:      doc.BirthDate,
			DeathDate:      doc.DeathDate,
			TopWork:        doc.TopWork,
			WorkCount:      doc.WorkCount,
			RatingsCount:   doc.RatingsCount,
		})
	}
	return summaries, nil
}

func (c *Client) GetAuthor(ctx context.Context, key string) (*metadata.AuthorDetail, error) {
	var resp struct {
		Key            string          `json:"key"`
		Name           string          `json:"name"`
		Bio            json.RawMessage `json:"bio"`
		BirthDate      string          `json:"birth_date"`
		DeathDate      string          `json:"death_date"`
		AlternateNames []string        `json:"alternate_names"`
		Photos         []int           `json:"photos"`
		Links          []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"links"`
		RemoteIDs map[string]string `json:"remote_ids"`
	}
	err := c.getJSON(ctx, "/authors/"+url.PathEscape(key)+".json", &resp)
	if err != nil {
		return nil, err
	}

	detail := &metadata.AuthorDetail{
		Key:            strings.TrimPrefix(resp.Key, "/authors/"),
		Name:           resp.Name,
		Biography:      decodeBio(resp.Bio),
		BirthDate:      resp.BirthDate,
		DeathDate:      resp.DeathDate,
		AlternateNames: resp.AlternateNames,
		RemoteIDs:      resp.RemoteIDs,
	}
	for _, photoID := range resp.Photos {
		if photoID <= 0 {
			continue
		}
		detail.PhotoURLs = append(detail.PhotoURLs, fmt.Sprintf("https://covers.openlibrary.org/a/id/%d-L.jpg", photoID))
	}
	for _, link := range resp.Links {
		detail.Links = append(detail.Links, metadata.Link{Title: link.Title, URL: link.URL})
	}
	return detail, nil
}

func (c *Client) GetAuthorWorks(ctx context.Context, key string, limit int) ([]*metadata.Work, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	var resp struct {
		Entries []struct {
			Key              string   `json:"key"`
			Title            string   `json:"title"`
			Subjects         []string `json:"subjects"`
			FirstPublishDate string   `json:"first_publish_date"`
		} `json:"entries"`
	}
	err := c.getJSON(ctx, "/authors/"+url.PathEscape(key)+"/works.json?"+q.Encode(), &resp)
	if err != nil {
		return nil, err
	}

	works := make([]*metadata.Work, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		work := &metadata.Work{
			Key:      strings.TrimPrefix(entry.Key, "/works/"),
			Title:    entry.Title,
			Subjects: entry.Subjects,
		}
		if year := parseYear(entry.FirstPublishDate); year != 0 {
			work.FirstPublished = &year
		}
		works = append(works, work)
	}
	return works, nil
}

func (c *Client) SearchBooks(ctx context.Context, title, author string, limit int) ([]*metadata.BookSummary, error) {
	q := url.Values{}
	q.Set("title", title)
	if author != "" {
		q.Set("author", author)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	var resp struct {
		Docs []struct {
			Key              string   `json:"key"`
			Title            string   `json:"title"`
			AuthorName       []string `json:"author_name"`
			FirstPublishYear int      `json:"first_publish_year"`
		} `json:"docs"`
	}
	err := c.getJSON(ctx, "/search.json?"+q.Encode(), &resp)
	if err != nil {
		return nil, err
	}

	books := make([]*metadata.BookSummary, 0, len(resp.Docs))
	for _, doc := range resp.Docs {
		book := &metadata.BookSummary{
			Key:     strings.TrimPrefix(doc.Key, "/works/"),
			Title:   doc.Title,
			Authors: doc.AuthorName,
		}
		if doc.FirstPublishYear != 0 {
			year := doc.FirstPublishYear
			book.Year = &year
		}
		books = append(books, book)
	}
	return books, nil
}

func (c *Client) GetBook(ctx context.Context, key string) (*metadata.BookDetail, error) {
	var resp struct {
		Key              string          `json:"key"`
		Title            string          `json:"title"`
		Description      json.RawMessage `json:"description"`
		Subjects         []string        `json:"subjects"`
		FirstPublishDate string          `json:"first_publish_date"`
	}
	err := c.getJSON(ctx, "/works/"+url.PathEscape(key)+".json", &resp)
	if err != nil {
		return nil, err
	}

	detail := &metadata.BookDetail{
		Key:         strings.TrimPrefix(resp.Key, "/works/"),
		Title:       resp.Title,
		Description: decodeBio(resp.Description),
		Subjects:    resp.Subjects,
	}
	if year := parseYear(resp.FirstPublishDate); year != 0 {
		detail.Year = &year
	}
	return detail, nil
}

// getJSON performs a GET request and decodes the response, retrying transient
// failures (network errors, 5xx, 429) with backoff.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return retry.Do(
		func() error {
			return c.getJSONOnce(ctx, path, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, metadata.ErrUnavailable) || errors.Is(err, metadata.ErrRateLimited)
		}),
	)
}

func (c *Client) getJSONOnce(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(metadata.ErrUnavailable, "%v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return metadata.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return metadata.ErrRateLimited
	case resp.StatusCode >= 500:
		return errors.Wrapf(metadata.ErrUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(metadata.ErrUnavailable, "%v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// decodeBio handles OpenLibrary's two bio encodings: a plain string or a
// typed object {"type": "/type/text", "value": "..."}.
func decodeBio(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return ""
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	year := 0
	for _, r := range date[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	return year
}

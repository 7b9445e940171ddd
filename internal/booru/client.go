// Package booru queries the Gelbooru post API and aggregates paginated
// results into a flat post listing.
package booru

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WSH032/booru-dl/internal/logctx"
)

// DefaultBaseURL is the production Gelbooru endpoint. Tests inject their own.
const DefaultBaseURL = "https://gelbooru.com/index.php"

// pageLimit is the largest page size the API accepts.
// See https://gelbooru.com/index.php?page=wiki&s=view&id=18780.
const pageLimit = 100

var (
	// ErrEmptyTags is returned when the tag query is empty.
	ErrEmptyTags = errors.New("tags cannot be empty")
	// ErrInvalidLimit is returned when a page limit is outside 1..=100.
	ErrInvalidLimit = errors.New("limit can only be between 1 and 100")
	// ErrZeroCount is returned when zero posts are requested.
	ErrZeroCount = errors.New("number of posts cannot be 0")
)

// Attributes is the pagination envelope of a listing response.
type Attributes struct {
	// Limit is the page size the server applied.
	Limit uint64 `json:"limit"`
	// Offset is the index of the first post in this page.
	Offset uint64 `json:"offset"`
	// Count is the total number of posts matching the query.
	Count uint64 `json:"count"`
}

// Page is one decoded listing response.
type Page struct {
	Attributes Attributes `json:"@attributes"`
	// Posts is nil when the count is zero or the page id is out of range.
	Posts []Post `json:"post"`
}

// Client talks to a Gelbooru-compatible post API.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient builds a client on top of the given HTTP client. An empty
// baseURL selects DefaultBaseURL.
func NewClient(client *http.Client, baseURL string) *Client {
	if client == nil {
		client = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{client: client, baseURL: baseURL}
}

// Page fetches a single listing page.
func (c *Client) Page(ctx context.Context, tags string, limit, pid uint64) (*Page, error) {
	if tags == "" {
		return nil, ErrEmptyTags
	}

	if limit < 1 || limit > pageLimit {
		return nil, ErrInvalidLimit
	}

	target, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	q := target.Query()
	q.Set("page", "dapi")
	q.Set("s", "post")
	q.Set("q", "index")
	q.Set("json", "1")
	q.Set("tags", tags)
	q.Set("limit", strconv.FormatUint(limit, 10))
	q.Set("pid", strconv.FormatUint(pid, 10))
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query post api: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post api returned status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode post api response: %w", err)
	}

	return &page, nil
}

// Posts polls the API page by page until count posts are collected, or until
// the query is exhausted, whichever comes first. A query that matches
// nothing returns an empty slice, not an error.
func (c *Client) Posts(ctx context.Context, tags string, count uint64) ([]Post, error) {
	if tags == "" {
		return nil, ErrEmptyTags
	}

	if count == 0 {
		return nil, ErrZeroCount
	}

	logger := logctx.LoggerFromContext(ctx).With("tags", tags)

	var pid uint64

	first, err := c.Page(ctx, tags, pageLimit, pid)
	if err != nil {
		return nil, err
	}

	if len(first.Posts) == 0 {
		return []Post{}, nil
	}

	total := count
	if first.Attributes.Count < total {
		total = first.Attributes.Count
	}

	logger.Debug("fetched first page", "matching", first.Attributes.Count, "requested", count)

	posts := first.Posts
	for uint64(len(posts)) < total {
		pid++

		page, err := c.Page(ctx, tags, pageLimit, pid)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", pid, err)
		}

		if len(page.Posts) == 0 {
			// The server reported more matches than it is willing to serve.
			break
		}

		posts = append(posts, page.Posts...)
	}

	if uint64(len(posts)) > total {
		posts = posts[:total]
	}

	return posts, nil
}

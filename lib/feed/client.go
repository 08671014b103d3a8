// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/stashwatch/stashwatch/lib/netutil"
)

// DefaultFeedURL is the public stash tab API.
const DefaultFeedURL = "https://www.pathofexile.com/api/public-stash-tabs"

// DefaultBootstrapURL returns the most recent change id as observed by
// poe.ninja, which lets a fresh process start near the head of the
// feed instead of replaying it from the beginning.
const DefaultBootstrapURL = "https://poe.ninja/api/Data/GetStats"

// DefaultUserAgent is sent when ClientConfig.UserAgent is empty.
const DefaultUserAgent = "stashwatch/0.1"

// ClientConfig configures a Client.
type ClientConfig struct {
	// FeedURL is the page endpoint. The cursor is passed as the "id"
	// query parameter. Defaults to DefaultFeedURL.
	FeedURL string

	// BootstrapURL is the endpoint whose next_change_id seeds the
	// first cursor. Defaults to DefaultBootstrapURL.
	BootstrapURL string

	// UserAgent is the User-Agent header. The stash API rejects
	// requests without one. Defaults to DefaultUserAgent.
	UserAgent string

	// MaxBodySize caps the decoded body. Defaults to
	// netutil.DefaultMaxBodySize.
	MaxBodySize int64

	// HTTPClient performs requests. Defaults to a client with no
	// overall timeout: callers bound each request with its context.
	HTTPClient *http.Client
}

// Client fetches feed pages and bootstrap cursors. It holds no
// position state; the cursor travels with each call. Safe for
// concurrent use, although the poller never issues concurrent fetches.
type Client struct {
	feedURL      *url.URL
	bootstrapURL string
	userAgent    string
	maxBodySize  int64
	http         *http.Client
}

// NewClient validates config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	feedURL := config.FeedURL
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	parsed, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed: parsing feed URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("feed: feed URL %q must be http or https", feedURL)
	}

	bootstrapURL := config.BootstrapURL
	if bootstrapURL == "" {
		bootstrapURL = DefaultBootstrapURL
	}
	if _, err := url.Parse(bootstrapURL); err != nil {
		return nil, fmt.Errorf("feed: parsing bootstrap URL: %w", err)
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	maxBodySize := config.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = netutil.DefaultMaxBodySize
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		feedURL:      parsed,
		bootstrapURL: bootstrapURL,
		userAgent:    userAgent,
		maxBodySize:  maxBodySize,
		http:         httpClient,
	}, nil
}

// Bootstrap issues one bootstrap request and returns its
// next_change_id.
func (c *Client) Bootstrap(ctx context.Context) (Cursor, error) {
	body, err := c.get(ctx, "bootstrap", c.bootstrapURL)
	if err != nil {
		return "", err
	}
	return DecodeBootstrap(body)
}

// Fetch retrieves and decodes the page at cursor.
func (c *Client) Fetch(ctx context.Context, cursor Cursor) (*Batch, error) {
	body, err := c.get(ctx, "fetch", c.PageURL(cursor))
	if err != nil {
		return nil, err
	}
	return Decode(cursor, body)
}

// PageURL returns the request URL for the page at cursor.
func (c *Client) PageURL(cursor Cursor) string {
	pageURL := *c.feedURL
	query := pageURL.Query()
	if cursor != "" {
		query.Set("id", cursor.String())
	} else {
		query.Del("id")
	}
	pageURL.RawQuery = query.Encode()
	return pageURL.String()
}

func (c *Client) get(ctx context.Context, operation, requestURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &NetworkError{Operation: operation, URL: requestURL, Err: err}
	}
	request.Header.Set("User-Agent", c.userAgent)
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Accept-Encoding", netutil.AcceptEncoding)

	response, err := c.http.Do(request)
	if err != nil {
		return nil, &NetworkError{Operation: operation, URL: requestURL, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		excerpt := ""
		if decoded, err := netutil.DecodeContent(response.Header.Get("Content-Encoding"), response.Body, c.maxBodySize); err == nil {
			excerpt = netutil.ErrorBody(decoded)
			decoded.Close()
		}
		return nil, &NetworkError{
			Operation:  operation,
			URL:        requestURL,
			StatusCode: response.StatusCode,
			Body:       excerpt,
			Err:        errors.New(http.StatusText(response.StatusCode)),
		}
	}

	decoded, err := netutil.DecodeContent(response.Header.Get("Content-Encoding"), response.Body, c.maxBodySize)
	if err != nil {
		return nil, &NetworkError{Operation: operation, URL: requestURL, Err: err}
	}
	defer decoded.Close()

	body, err := netutil.ReadBody(decoded, c.maxBodySize)
	if err != nil {
		return nil, &NetworkError{Operation: operation, URL: requestURL, Err: err}
	}
	return body, nil
}

/*
Package crates provides a client for the crates.io registry API.

cargo-uv uses it as a pre-flight check before publishing: a version that is
already on the registry cannot be published again, so failing early is cheaper
than a rejected cargo publish.
*/
package crates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/go-querystring/query"
)

// cratesHostname - crates.io API hostname (used as default API).
//
// crates.io is the canonical Rust package registry. The API is documented at
// crates.io/data-access.
var cratesHostname string = "https://crates.io"

// userAgent identifies the tool; crates.io rejects anonymous clients.
const userAgent = "cargo-uv (github.com/dephub/cargo-uv)"

// Client is the registry surface cargo-uv consumes.
type Client interface {
	Versions(ctx context.Context, name string) (*VersionList, *http.Response, error)
}

// CratesClient is used to send API requests to a crates.io compatible registry.
type CratesClient struct {
	baseURL    url.URL
	HttpClient *http.Client
}

// NewClient creates and returns a new client.
//
// If a nil URL is provided, the client is configured for crates.io.
func NewClient(httpClient *http.Client, URL *url.URL) (*CratesClient, error) {
	if URL == nil {
		var err error
		if URL, err = url.Parse(cratesHostname); err != nil {
			return nil, err
		}
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &CratesClient{baseURL: *URL, HttpClient: httpClient}, nil
}

// VersionList represents the published versions of one crate.
type VersionList struct {
	Versions []Version `json:"versions"`
}

// Version is one published release of a crate.
type Version struct {
	Num    string `json:"num"`
	Yanked bool   `json:"yanked"`
}

// Contains reports whether the given version number is published, yanked or not.
func (vl *VersionList) Contains(num string) bool {
	for _, v := range vl.Versions {
		if v.Num == num {
			return true
		}
	}
	return false
}

// Versions lists every published version of a crate, newest first.
func (c CratesClient) Versions(ctx context.Context, name string) (*VersionList, *http.Response, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("crate name is required and can't be empty")
	}

	route := fmt.Sprintf("%s/api/v1/crates/%s/versions", &c.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, "GET", route, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create a request: %w", err)
	}

	var vl VersionList
	var r *http.Response
	if r, err = parseResponse(&c, req, &vl); err != nil {
		return nil, nil, err
	}

	return &vl, r, nil
}

// SearchOptions specifies the optional parameters to the Search() method.
type SearchOptions struct {
	// PerPage is used to define the pagination step.
	PerPage int `url:"per_page,omitempty"`
	// Page is used to define page.
	Page int `url:"page,omitempty"`
}

// SearchResult represents one page of crate search results.
type SearchResult struct {
	Crates []FoundCrate `json:"crates"`
	Meta   struct {
		Total int `json:"total"`
	} `json:"meta"`
}

// FoundCrate is a representation of one crate from a search result slice.
type FoundCrate struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

// Search method is used to search the registry for crates.
func (c CratesClient) Search(ctx context.Context, q string, opts *SearchOptions) (*SearchResult, *http.Response, error) {
	if q == "" {
		return nil, nil, fmt.Errorf("'q' option is required for search request")
	}

	v, err := query.Values(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing the options: %w", err)
	}
	v.Add("q", q)

	route := fmt.Sprintf("%s/api/v1/crates?%s", &c.baseURL, v.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", route, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create a request: %w", err)
	}

	var sr SearchResult
	var r *http.Response
	if r, err = parseResponse(&c, req, &sr); err != nil {
		return nil, nil, err
	}

	return &sr, r, nil
}

// errorResponse mirrors the registry's error payload shape.
type errorResponse struct {
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

func parseResponse(c *CratesClient, req *http.Request, dt interface{}) (r *http.Response, err error) {
	req.Header.Set("User-Agent", userAgent)
	if r, err = c.HttpClient.Do(req); err != nil {
		return nil, fmt.Errorf("unable to send a request: %w", err)
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}

	// Handling error responses from the registry api
	var ersp errorResponse
	if perr := json.Unmarshal(body, &ersp); perr == nil && len(ersp.Errors) > 0 && ersp.Errors[0].Detail != "" {
		return nil, fmt.Errorf("registry api responded with error '%s'", ersp.Errors[0].Detail)
	}

	if r.StatusCode >= 400 {
		return nil, fmt.Errorf("registry responded with HTTP error '%d: %s'", r.StatusCode, http.StatusText(r.StatusCode))
	}

	if err = json.Unmarshal(body, &dt); err != nil {
		return nil, fmt.Errorf("unable to parse response: %w", err)
	}

	return r, nil
}

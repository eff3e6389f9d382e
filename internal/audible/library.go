package audible

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"audibridge/internal/marketplace"
)

// Person is a contributor reference in catalog responses.
type Person struct {
	ASIN string `json:"asin,omitempty"`
	Name string `json:"name"`
}

// LibraryItem is one purchased title as the vendor reports it.
type LibraryItem struct {
	ASIN             string   `json:"asin"`
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle"`
	Authors          []Person `json:"authors"`
	Narrators        []Person `json:"narrators"`
	RuntimeLengthMin int      `json:"runtime_length_min"`
	ReleaseDate      string   `json:"release_date"`
	PurchaseDate     string   `json:"purchase_date"`
}

// LibraryPage fetches one page of the account library (1-based page index).
func (c *Client) LibraryPage(ctx context.Context, m marketplace.Marketplace, accessToken string, page, pageSize int, responseGroups []string) ([]LibraryItem, error) {
	var resp struct {
		Items []LibraryItem `json:"items"`
	}
	err := c.doJSON(ctx, request{
		method:   http.MethodGet,
		url:      c.apiURL(m, "/1.0/library"),
		endpoint: "library",
		query: url.Values{
			"page":            {strconv.Itoa(page)},
			"num_results":     {strconv.Itoa(pageSize)},
			"response_groups": {strings.Join(responseGroups, ",")},
			"sort_by":         {"-PurchaseDate"},
		},
		bearer: accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

package backend

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/store"
)

// listResponse is the body of all list responses
type listResponse struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

// listQuery parses the query of a list request. Besides page and page_size only the
// given filter parameters are accepted.
func (b *Backend) listQuery(r *http.Request, filters ...string) (store.Page, url.Values, error) {
	query := r.URL.Query()
	page := store.Page{Number: 1, Size: b.config.PageSize}.Sanitized()

	fields := apierr.Fields{}
	for key := range query {
		known := key == "page" || key == "page_size"
		for _, f := range filters {
			known = known || key == f
		}
		if !known {
			fields.Add(key, "unknown query parameter")
		}
	}
	if s := query.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			fields.Add("page", "must be a positive integer")
		} else {
			page.Number = n
		}
	}
	if s := query.Get("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > store.MaxPageSize {
			fields.Add("page_size", "must be an integer between 1 and "+strconv.Itoa(store.MaxPageSize))
		} else {
			page.Size = n
		}
	}
	if len(fields) > 0 {
		return page, nil, apierr.Validation(fields)
	}
	return page, query, nil
}

// writeList writes one page of results with the pagination headers
func writeList(w http.ResponseWriter, r *http.Request, page store.Page, totalCount int, results interface{}) error {
	pageCount := store.PageCount(totalCount, page.Size)
	response := listResponse{Count: totalCount, Results: results}
	if page.Number < pageCount {
		next := pageURL(r, page.Number+1)
		response.Next = &next
	}
	if page.Number > 1 {
		n := page.Number - 1
		if n > pageCount {
			n = pageCount
		}
		if n >= 1 {
			previous := pageURL(r, n)
			response.Previous = &previous
		}
	}

	w.Header().Set("Pagination-Limit", strconv.Itoa(page.Size))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(pageCount))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(page.Number))
	return writeItem(w, r, response)
}

// pageURL returns the request URI of the request for another page
func pageURL(r *http.Request, number int) string {
	u := *r.URL
	query := u.Query()
	query.Set("page", strconv.Itoa(number))
	u.RawQuery = query.Encode()
	return u.RequestURI()
}

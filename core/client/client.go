/*
Package client provides easy and fast in-process access to the catalog REST api

Instead of marshalling HTTP, the client talks directly to the mux router. It is also
able to talk to a remote service by URL, which is what the integration tests and the
command line tooling do.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/geocatalog/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token. This works both
// against the router and against a remote service.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context including the authorization, if any
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

// Collection represents one collection of the API, for example "metadata"
type Collection struct {
	client     *Client
	path       string
	parameters []string
}

// Collection returns a new collection client
func (c Client) Collection(resource string) Collection {
	return Collection{client: &c, path: "/api/" + strings.Trim(resource, "/") + "/"}
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Collection{
		client: r.client,
		path:   r.path,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// CollectionPath returns the path of the collection plus optional query strings
func (r Collection) CollectionPath() string {
	if len(r.parameters) > 0 {
		return r.path + "?" + strings.Join(r.parameters, "&")
	}
	return r.path
}

// Create creates a new item.
//
// Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// List gets one page of the collection.
//
// result can be a page struct, map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Item represents a single item in a collection
type Item struct {
	col Collection
	id  uuid.UUID
}

// Item gets an item from a collection
func (r Collection) Item(id uuid.UUID) Item {
	return Item{col: r, id: id}
}

// Path returns the item path
func (r Item) Path() string {
	return r.col.path + r.id.String() + "/"
}

// Read reads an item. Expects http.StatusOK as response.
func (r Item) Read(result interface{}) (int, error) {
	return r.col.client.RawGet(r.Path(), result)
}

// Update replaces an item. Expects http.StatusOK as response.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPut(r.Path(), body, result)
}

// Patch updates the supplied fields of an item. Expects http.StatusOK as response.
func (r Item) Patch(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPatch(r.Path(), body, result)
}

// Delete deletes an item. Expects http.StatusNoContent as response.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// Action posts body to an action of the item, for example "publish". Expects
// http.StatusOK as response.
func (r Item) Action(action string, body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPost(r.Path()+action+"/", body, result)
}

func (c Client) do(method, path string, header map[string]string, body interface{}) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, nil, nil, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewBuffer(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}

	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, err
}

func decode(resBody []byte, result interface{}) error {
	if len(resBody) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

func wrongStatus(status int, want int, resBody []byte) error {
	return fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
		status, want, strings.TrimSpace(string(resBody)))
}

// RawGet gets a resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets a resource from path with additional request headers. Expects
// http.StatusOK as response, http.StatusNotModified is returned without error and without
// result.
//
// Returns the actual http status code and the return header
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	status, h, resBody, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return status, h, err
	}
	if status == http.StatusNoContent || status == http.StatusNotModified {
		return status, h, nil
	}
	if status != http.StatusOK {
		return status, h, wrongStatus(status, http.StatusOK, resBody)
	}
	return status, h, decode(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated or http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	status, _, err := c.RawPostWithHeader(path, nil, body, result)
	return status, err
}

// RawPostWithHeader is RawPost with additional request headers. It also returns the
// response header.
func (c Client) RawPostWithHeader(path string, header map[string]string, body interface{}, result interface{}) (int, http.Header, error) {
	status, h, resBody, err := c.do(http.MethodPost, path, header, body)
	if err != nil {
		return status, h, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return status, h, wrongStatus(status, http.StatusCreated, resBody)
	}
	return status, h, decode(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	status, _, resBody, err := c.do(http.MethodPut, path, nil, body)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, wrongStatus(status, http.StatusOK, resBody)
	}
	return status, decode(resBody, result)
}

// RawPatch patches a resource at path. Expects http.StatusOK as response, otherwise
// it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	status, _, resBody, err := c.do(http.MethodPatch, path, nil, body)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, wrongStatus(status, http.StatusOK, resBody)
	}
	return status, decode(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as response,
// otherwise it will flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, _, resBody, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusNoContent {
		return status, wrongStatus(status, http.StatusNoContent, resBody)
	}
	return status, nil
}

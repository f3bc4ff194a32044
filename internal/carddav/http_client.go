package carddav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "contact-sync/internal/common/errors"
	"contact-sync/internal/common/httpx"
)

const addressBookQueryBody = `<?xml version="1.0" encoding="utf-8" ?>
<C:addressbook-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <D:prop>
    <D:getetag/>
    <C:address-data/>
  </D:prop>
</C:addressbook-query>`

const addressBookListBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <D:prop>
    <D:displayname/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

// HTTPClient is a basic CardDAV client speaking PROPFIND/REPORT/PUT
// with basic auth.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewHTTPClient creates a client for one directory-server account.
func NewHTTPClient(serverURL, username, password string) *HTTPClient {
	return &HTTPClient{
		httpClient: httpx.NewClientWithTimeout(30 * time.Second),
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		username:   username,
		password:   password,
	}
}

// ListAddressBooks lists the address-book collections under the account
// home via a depth-1 PROPFIND.
func (c *HTTPClient) ListAddressBooks(ctx context.Context) ([]RemoteAddressBook, error) {
	body, err := c.do(ctx, "PROPFIND", c.baseURL, addressBookListBody, map[string]string{"Depth": "1"})
	if err != nil {
		return nil, err
	}

	var books []RemoteAddressBook
	for _, block := range strings.Split(body, "<D:response>")[1:] {
		href := extractTag(block, "D:href")
		if href == "" {
			continue
		}
		// Only collections flagged as address books count; the home
		// itself comes back in the same multistatus.
		if !strings.Contains(block, "addressbook") {
			continue
		}
		books = append(books, RemoteAddressBook{
			URL:         c.resolve(href),
			DisplayName: unescapeXML(extractTag(block, "D:displayname")),
		})
	}
	return books, nil
}

// Objects returns a lazy iterator over the records of one address book.
// The REPORT is issued on the first Next call.
func (c *HTTPClient) Objects(addressBookURL string) ObjectIter {
	return &reportIter{client: c, url: addressBookURL}
}

// Put writes one record back to the server.
func (c *HTTPClient) Put(ctx context.Context, obj RemoteObject) (UpdateResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(obj.URL), strings.NewReader(obj.Raw))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/vcard; charset=utf-8")
	if obj.ETag != "" {
		req.Header.Set("If-Match", obj.ETag)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UpdateResult{}, apperrors.ConnectionError("update request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return UpdateResult{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
	}, nil
}

// reportIter materializes one multistatus response and serves it one
// object at a time.
type reportIter struct {
	client  *HTTPClient
	url     string
	fetched bool
	objects []RemoteObject
	pos     int
}

func (it *reportIter) Next(ctx context.Context) (*RemoteObject, error) {
	if !it.fetched {
		body, err := it.client.do(ctx, "REPORT", it.url, addressBookQueryBody, map[string]string{"Depth": "1"})
		if err != nil {
			return nil, err
		}
		it.objects = parseMultiStatus(body)
		it.fetched = true
	}
	if it.pos >= len(it.objects) {
		return nil, io.EOF
	}
	obj := it.objects[it.pos]
	it.pos++
	return &obj, nil
}

func (c *HTTPClient) do(ctx context.Context, method, target, body string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.ConnectionError(method+" request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}
	return string(data), nil
}

func (c *HTTPClient) resolve(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// parseMultiStatus extracts records from a WebDAV multistatus response.
func parseMultiStatus(xmlResponse string) []RemoteObject {
	var objects []RemoteObject
	for _, block := range strings.Split(xmlResponse, "<D:response>")[1:] {
		raw := extractTag(block, "C:address-data")
		if raw == "" {
			continue
		}
		objects = append(objects, RemoteObject{
			URL:  extractTag(block, "D:href"),
			Raw:  unescapeXML(raw),
			ETag: strings.Trim(extractTag(block, "D:getetag"), `"`),
		})
	}
	return objects
}

func extractTag(block, tag string) string {
	open, close := "<"+tag+">", "</"+tag+">"
	start := strings.Index(block, open)
	if start == -1 {
		return ""
	}
	start += len(open)
	end := strings.Index(block[start:], close)
	if end == -1 {
		return ""
	}
	return block[start : start+end]
}

func unescapeXML(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&#13;", "\r")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

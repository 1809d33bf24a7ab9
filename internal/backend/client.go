// Package backend talks to the back-office REST API: starting a verification
// run, reading its status, uploading matched images and looking up catalog
// records. Every response passes through one parse boundary which turns it
// into a Completed, Deferred or Rejected outcome.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitrine-ops/imgsync/internal/model"
)

const maxBody = 32 << 20

// Endpoints are relative to the server URL.
type Endpoints struct {
	Start  string
	Status string
	Upload string
	// Lookup is a prefix, the escaped key is appended.
	Lookup string
}

var DefaultEndpoints = Endpoints{
	Start:  "admin/produtos/imagens/verificar",
	Status: "admin/produtos/imagens/status",
	Upload: "admin/produtos/imagens/upload-local",
	Lookup: "products/by-barcode/",
}

type Options struct {
	Timeout    time.Duration
	Endpoints  Endpoints
	HTTPClient *http.Client
	Now        func() time.Time
}

type Client struct {
	base      *url.URL
	creds     Credentials
	client    *http.Client
	endpoints Endpoints
	dec       *decoder
	now       func() time.Time
}

func New(serverURL string, creds Credentials, opts Options) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("please define the server url with a scheme, e.g. `https://shop.example.com/api`")
	}
	if creds == nil {
		return nil, errors.New("credentials supplier is nil")
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/") + "/"
	parsedURL.RawQuery = ""

	c := &Client{
		base:      parsedURL,
		creds:     creds,
		client:    opts.HTTPClient,
		endpoints: opts.Endpoints,
		now:       opts.Now,
	}
	if c.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = model.DefaultServerTimeout
		}
		c.client = &http.Client{Timeout: timeout}
	}
	if c.endpoints == (Endpoints{}) {
		c.endpoints = DefaultEndpoints
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.dec = newDecoder(c.now)
	return c, nil
}

// Start asks the server to begin a verification run.
func (c *Client) Start(ctx context.Context) (Outcome, error) {
	const op = "start"
	body := func() (io.Reader, string, error) {
		raw, err := json.Marshal(map[string]string{
			"acionadoEm": c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
		return bytes.NewReader(raw), "application/json", err
	}
	resp, err := c.do(ctx, op, http.MethodPost, c.endpoints.Start, body)
	if err != nil {
		return nil, err
	}
	return c.outcome(op, resp)
}

// Status reads the current or most recent run. A 404 comes back as a
// Rejected outcome with NotFound() set.
func (c *Client) Status(ctx context.Context) (Outcome, error) {
	const op = "status"
	resp, err := c.do(ctx, op, http.MethodGet, c.endpoints.Status, nil)
	if err != nil {
		return nil, err
	}
	return c.outcome(op, resp)
}

// Upload sends the files as one multipart request, one "imagens" part per
// file. The body is streamed, files are opened one at a time.
func (c *Client) Upload(ctx context.Context, files []model.MatchedFile) (Outcome, error) {
	const op = "upload"
	if len(files) == 0 {
		return nil, &Error{Op: op, Kind: KindRejected, Err: model.ErrNothingToUpload}
	}
	body := func() (io.Reader, string, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeParts(mw, files))
		}()
		return pr, mw.FormDataContentType(), nil
	}
	resp, err := c.do(ctx, op, http.MethodPost, c.endpoints.Upload, body)
	if err != nil {
		return nil, err
	}
	return c.outcome(op, resp)
}

func writeParts(mw *multipart.Writer, files []model.MatchedFile) error {
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, f model.MatchedFile) error {
	rc, err := f.File.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.File.Path(), err)
	}
	defer func() {
		_ = rc.Close()
	}()
	w, err := mw.CreateFormFile("imagens", filepath.Base(f.File.Path()))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, rc)
	return err
}

// LookupRecord finds the catalog record for key. A 404 or an empty answer
// is model.NotFound(key) without error.
func (c *Client) LookupRecord(ctx context.Context, key string) (model.ResolvedRecord, error) {
	const op = "lookup"
	resp, err := c.do(ctx, op, http.MethodGet, c.endpoints.Lookup+url.PathEscape(key), nil)
	if err != nil {
		return model.ResolvedRecord{}, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return model.NotFound(key), nil
	case resp.status < 200 || resp.status > 299:
		return model.ResolvedRecord{}, c.rejected(resp).Err(op)
	}
	if err := checkJSON(resp); err != nil {
		return model.ResolvedRecord{}, &Error{Op: op, Kind: KindMalformed, StatusCode: resp.status, Err: err}
	}
	rec, ok, err := c.dec.lookup(resp.body)
	if err != nil {
		return model.ResolvedRecord{}, &Error{Op: op, Kind: KindMalformed, StatusCode: resp.status, Err: err}
	}
	if !ok {
		return model.NotFound(key), nil
	}
	rec.Key = key
	return rec, nil
}

type response struct {
	status      int
	statusText  string
	contentType string
	body        []byte
}

type bodyFunc func() (io.Reader, string, error)

// do sends one request. The credential is checked first, so a missing or
// expired token never reaches the network. 401 is reported as an expired
// credential.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body bodyFunc) (response, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return response{}, &Error{Op: op, Kind: KindAuth, Err: err}
	}

	ref, err := url.Parse(endpoint)
	if err != nil {
		return response{}, &Error{Op: op, Kind: KindTransport, Err: err}
	}
	target := c.base.ResolveReference(ref)

	var reader io.Reader
	var contentType string
	if body != nil {
		reader, contentType, err = body()
		if err != nil {
			return response{}, &Error{Op: op, Kind: KindTransport, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		if rc, ok := reader.(io.Closer); ok {
			_ = rc.Close()
		}
		return response{}, &Error{Op: op, Kind: KindTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return response{}, &Error{Op: op, Kind: KindTransport, StatusCode: resp.StatusCode, Err: err}
	}
	slog.DebugContext(ctx, "request done",
		slog.String("op", op),
		slog.String("url", target.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", c.now().Sub(start)))

	r := response{
		status:      resp.StatusCode,
		statusText:  http.StatusText(resp.StatusCode),
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}
	if r.status == http.StatusUnauthorized {
		msg, _ := message(data)
		return r, &Error{Op: op, Kind: KindAuth, StatusCode: r.status, Message: msg, Err: model.ErrCredentialExpired}
	}
	return r, nil
}

// outcome is the parse boundary for job responses.
func (c *Client) outcome(op string, resp response) (Outcome, error) {
	malformed := func(err error) error {
		return &Error{Op: op, Kind: KindMalformed, StatusCode: resp.status, Err: err}
	}
	empty := len(bytes.TrimSpace(resp.body)) == 0

	switch {
	case resp.status == http.StatusAccepted:
		t, err := c.dec.ticket(resp.body)
		if err != nil {
			return nil, malformed(err)
		}
		return Deferred{Ticket: t}, nil

	case resp.status >= 200 && resp.status <= 299:
		if resp.status == http.StatusNoContent || empty {
			return Completed{StatusCode: resp.status}, nil
		}
		if err := checkJSON(resp); err != nil {
			return nil, malformed(err)
		}
		p, err := c.dec.result(resp.body)
		if err != nil {
			return nil, malformed(err)
		}
		return Completed{Payload: p, StatusCode: resp.status}, nil

	case hasData(resp.body):
		p, err := c.dec.result(resp.body)
		if err != nil {
			return nil, malformed(err)
		}
		return Completed{Payload: p, StatusCode: resp.status}, nil

	default:
		return c.rejected(resp), nil
	}
}

func (c *Client) rejected(resp response) Rejected {
	msg, ok := message(resp.body)
	if !ok {
		msg = strings.TrimSpace(fmt.Sprintf("request failed: %d %s", resp.status, resp.statusText))
	}
	return Rejected{StatusCode: resp.status, Message: msg}
}

// checkJSON accepts a missing content type, application/json and any +json type.
func checkJSON(resp response) error {
	if resp.contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(resp.contentType)
	if err != nil {
		return fmt.Errorf("failed to parse response content type header: %w", err)
	}
	if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		return fmt.Errorf("expected `application/json` content type, got: %s", mediaType)
	}
	return nil
}

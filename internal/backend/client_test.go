package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vitrine-ops/imgsync/internal/backend"
	"github.com/vitrine-ops/imgsync/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const statusBody = `{
  "logs": [
    {"id": "log-1", "message": "Starting verification.", "type": "info", "timestamp": "2025-03-01T10:00:00.000Z"},
    {"message": "Image 7891-1.jpg linked.", "type": "success", "timestamp": "2025-03-01T10:00:01.000Z"},
    {"message": "odd type", "type": "debug"}
  ],
  "data": {
    "summary": {"linked": 3, "already": 1, "products": "2", "images": 4.0},
    "products": [
      {"_id": "65f0", "nome": "Blue mug", "cod": "M-1", "codbarras": "7891",
       "driveFolder": {"id": "fld-1", "name": "Mugs"},
       "images": [
         {"sequence": 1, "linkedNow": true, "alreadyLinked": false, "path": "/uploads/7891/7891-1.jpg"},
         {"sequence": 2, "linkedNow": false, "alreadyLinked": true, "path": "/uploads/7891/7891-2.jpg"}
       ]},
      {"id": "65f1", "name": "Red mug", "code": "M-2",
       "images": [{"sequence": 1, "status": "failed", "message": "too large"}]}
    ],
    "startedAt": "2025-03-01T10:00:00.000Z",
    "finishedAt": "2025-03-01T10:00:05.000Z",
    "status": "completed",
    "error": null
  },
  "meta": {"totalProducts": 10, "processedProducts": 10}
}`

type fixture struct {
	status      int
	contentType string
	body        string
}

func newServer(t *testing.T, f fixture, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if f.contentType != "" {
			w.Header().Set("Content-Type", f.contentType)
		}
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, creds backend.Credentials) *backend.Client {
	t.Helper()
	c, err := backend.New(url, creds, backend.Options{
		Now: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()
	_, err := backend.New("localhost:3000", backend.StaticToken("x"), backend.Options{})
	require.Error(t, err)
	_, err = backend.New("http://localhost:3000/api", nil, backend.Options{})
	require.Error(t, err)
	_, err = backend.New("http://localhost:3000/api/", backend.StaticToken("x"), backend.Options{})
	require.NoError(t, err)
}

func TestStart_Deferred(t *testing.T) {
	t.Parallel()
	var got struct {
		path   string
		auth   string
		accept string
		body   map[string]string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.accept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"message":"Verification accepted.","startedAt":"2025-03-01T12:00:00.000Z","status":"processing"}`)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL+"/api", backend.StaticToken("secret"))
	out, err := c.Start(t.Context())
	require.NoError(t, err)

	deferred, ok := out.(backend.Deferred)
	require.True(t, ok, "got %T", out)
	require.Equal(t, "Verification accepted.", deferred.Ticket.Message)
	require.Equal(t, model.StatusProcessing, deferred.Ticket.Status)
	require.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), deferred.Ticket.StartedAt)

	require.Equal(t, "/api/admin/produtos/imagens/verificar", got.path)
	require.Equal(t, "Bearer secret", got.auth)
	require.Equal(t, "application/json", got.accept)
	require.Equal(t, "2025-03-01T12:00:00.000Z", got.body["acionadoEm"])
}

func TestStatus_Completed(t *testing.T) {
	t.Parallel()
	srv := newServer(t, fixture{http.StatusOK, "application/json", statusBody}, nil)
	c := newClient(t, srv.URL, backend.StaticToken("secret"))

	out, err := c.Status(t.Context())
	require.NoError(t, err)
	completed, ok := out.(backend.Completed)
	require.True(t, ok, "got %T", out)
	p := completed.Payload

	require.Equal(t, model.StatusCompleted, p.Status)
	require.Equal(t, model.StatusCompleted, p.ResolveStatus())
	require.Empty(t, p.Error)
	require.Equal(t, model.Summary{Linked: 3, Already: 1, Products: 2, Images: 4}, model.Summary{}.Apply(p.Summary))
	require.Equal(t, model.Meta{TotalRecords: 10, ProcessedRecords: 10}, model.Meta{}.Apply(p.Meta))

	require.Len(t, p.Logs, 3)
	require.Equal(t, "log-1", p.Logs[0].ID)
	require.Equal(t, "2025-03-01T10:00:01.000Z::Image 7891-1.jpg linked.::success", p.Logs[1].ID)
	require.Equal(t, model.SeveritySuccess, p.Logs[1].Severity)
	require.Equal(t, model.SeverityInfo, p.Logs[2].Severity)
	require.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), p.Logs[2].Timestamp)
	require.Equal(t, model.OriginServer, p.Logs[0].Origin)

	require.Len(t, p.Records, 2)
	mug := p.Records[0]
	require.Equal(t, "7891", mug.Key)
	require.Equal(t, "65f0", mug.ID)
	require.Equal(t, "Blue mug", mug.DisplayName)
	require.Equal(t, "M-1", mug.Code)
	require.Equal(t, "fld-1", mug.Folder.Key())
	require.Equal(t, []model.ImageResult{
		{Sequence: 1, Status: model.ImageUploaded, DestRef: "/uploads/7891/7891-1.jpg"},
		{Sequence: 2, Status: model.ImageAlready, DestRef: "/uploads/7891/7891-2.jpg"},
	}, mug.Images)

	red := p.Records[1]
	require.Equal(t, "M-2", red.Key)
	require.Equal(t, model.ImageFailed, red.Images[0].Status)
	require.Equal(t, "too large", red.Images[0].Message)
}

func TestStatus_NullCounters(t *testing.T) {
	t.Parallel()
	body := `{"data":{"status":"processing","summary":{"linked":null,"already":2}},"meta":{"totalProducts":null}}`
	srv := newServer(t, fixture{http.StatusOK, "application/json", body}, nil)
	c := newClient(t, srv.URL, backend.StaticToken("secret"))

	out, err := c.Status(t.Context())
	require.NoError(t, err)
	completed, ok := out.(backend.Completed)
	require.True(t, ok, "got %T", out)
	p := completed.Payload

	// null resets a counter, a missing key keeps the previous value
	require.NotNil(t, p.Summary.Linked)
	require.Zero(t, *p.Summary.Linked)
	require.Nil(t, p.Summary.Products)
	require.NotNil(t, p.Meta.TotalRecords)
	require.Nil(t, p.Meta.ProcessedRecords)

	prev := model.Summary{Linked: 5, Already: 1, Products: 3, Images: 9}
	require.Equal(t, model.Summary{Linked: 0, Already: 2, Products: 3, Images: 9}, prev.Apply(p.Summary))
}

func TestOutcomes(t *testing.T) {
	t.Parallel()
	type then struct {
		outcome string
		status  int
		message string
	}
	var testCases = []struct {
		scenario string
		given    fixture
		then     then
	}{
		{
			scenario: "no history",
			given:    fixture{http.StatusNotFound, "application/json", `{"message":"No previous verification was found."}`},
			then:     then{"rejected", http.StatusNotFound, "No previous verification was found."},
		},
		{
			scenario: "already running",
			given:    fixture{http.StatusConflict, "application/json", `{"message":"A verification is already running."}`},
			then:     then{"rejected", http.StatusConflict, "A verification is already running."},
		},
		{
			scenario: "html error page",
			given:    fixture{http.StatusBadGateway, "text/html", `<html>bad gateway</html>`},
			then:     then{"rejected", http.StatusBadGateway, "request failed: 502 Bad Gateway"},
		},
		{
			scenario: "failed upload carries data",
			given:    fixture{http.StatusBadRequest, "application/json", `{"message":"Upload done.","data":{"status":"failed","error":"disk full"}}`},
			then:     then{"completed", http.StatusBadRequest, "Upload done."},
		},
		{
			scenario: "no content",
			given:    fixture{http.StatusNoContent, "", ""},
			then:     then{"completed", http.StatusNoContent, ""},
		},
		{
			scenario: "accepted without body",
			given:    fixture{http.StatusAccepted, "", ""},
			then:     then{"deferred", 0, ""},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			srv := newServer(t, tt.given, nil)
			c := newClient(t, srv.URL, backend.StaticToken("secret"))
			out, err := c.Status(t.Context())
			require.NoError(t, err)

			switch o := out.(type) {
			case backend.Rejected:
				require.Equal(t, "rejected", tt.then.outcome)
				require.Equal(t, tt.then.status, o.StatusCode)
				require.Equal(t, tt.then.message, o.Message)
				require.Equal(t, tt.then.status == http.StatusNotFound, o.NotFound())
				require.ErrorContains(t, o.Err("status"), tt.then.message)
			case backend.Completed:
				require.Equal(t, "completed", tt.then.outcome)
				require.Equal(t, tt.then.status, o.StatusCode)
				require.Equal(t, tt.then.message, o.Payload.Message)
			case backend.Deferred:
				require.Equal(t, "deferred", tt.then.outcome)
				require.Equal(t, model.StatusQueued, o.Ticket.Status)
			default:
				t.Fatalf("unexpected outcome %T", out)
			}
		})
	}
}

func TestFailedUploadPayload(t *testing.T) {
	t.Parallel()
	srv := newServer(t, fixture{http.StatusBadRequest, "application/json", `{"message":"Upload done.","data":{"status":"failed","error":"disk full"},"summary":{"linked":0}}`}, nil)
	c := newClient(t, srv.URL, backend.StaticToken("secret"))
	out, err := c.Status(t.Context())
	require.NoError(t, err)
	p := out.(backend.Completed).Payload
	require.Equal(t, model.StatusFailed, p.ResolveStatus())
	require.Equal(t, "disk full", p.Error)
	require.NotNil(t, p.Summary.Linked)
	require.Nil(t, p.Summary.Already)
}

func TestMalformed(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    fixture
	}{
		{"not json", fixture{http.StatusOK, "application/json", `not json`}},
		{"array", fixture{http.StatusOK, "application/json", `[1, 2]`}},
		{"negative counter", fixture{http.StatusOK, "application/json", `{"data":{"summary":{"linked":-1}}}`}},
		{"unknown status", fixture{http.StatusOK, "application/json", `{"data":{"status":"exploded"}}`}},
		{"counter is text", fixture{http.StatusOK, "application/json", `{"meta":{"totalProducts":"many"}}`}},
		{"wrong content type", fixture{http.StatusOK, "text/plain", `{"data":{}}`}},
		{"bad ticket", fixture{http.StatusAccepted, "application/json", `{"status":"later"}`}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			srv := newServer(t, tt.given, nil)
			c := newClient(t, srv.URL, backend.StaticToken("secret"))
			out, err := c.Status(t.Context())
			require.Error(t, err)
			require.Nil(t, out)
			require.True(t, backend.IsTransport(err))
			require.False(t, backend.IsAuth(err))

			var berr *backend.Error
			require.ErrorAs(t, err, &berr)
			require.Equal(t, backend.KindMalformed, berr.Kind)
		})
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	t.Run("missing token sends nothing", func(t *testing.T) {
		var requests atomic.Int32
		srv := newServer(t, fixture{http.StatusOK, "application/json", statusBody}, &requests)
		c := newClient(t, srv.URL, backend.StaticToken(""))
		_, err := c.Start(t.Context())
		require.True(t, backend.IsAuth(err))
		require.ErrorIs(t, err, model.ErrNoCredential)
		require.Zero(t, requests.Load())
	})

	t.Run("401 is an expired credential", func(t *testing.T) {
		srv := newServer(t, fixture{http.StatusUnauthorized, "application/json", `{"message":"Token expired."}`}, nil)
		c := newClient(t, srv.URL, backend.StaticToken("secret"))
		_, err := c.Status(t.Context())
		require.True(t, backend.IsAuth(err))
		require.ErrorIs(t, err, model.ErrCredentialExpired)
		require.Equal(t, "Token expired.", backend.Describe(err))
	})

	t.Run("transport", func(t *testing.T) {
		srv := newServer(t, fixture{http.StatusOK, "", ""}, nil)
		srv.Close()
		c := newClient(t, srv.URL, backend.StaticToken("secret"))
		_, err := c.Status(t.Context())
		require.True(t, backend.IsTransport(err))
	})
}

type memFile struct {
	path string
	data string
}

func (m memFile) Path() string { return m.path }

func (m memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.data)), nil
}

func TestUpload(t *testing.T) {
	t.Parallel()
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File["imagens"] {
			f, err := fh.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			got = append(got, fh.Filename+"="+string(data))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"Upload done.","data":{"status":"completed","summary":{"linked":2}}}`)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL, backend.StaticToken("secret"))
	out, err := c.Upload(t.Context(), []model.MatchedFile{
		{Key: "7891", Sequence: 1, File: memFile{"/photos/7891-1.jpg", "one"}},
		{Key: "7891", Sequence: 2, File: memFile{"/photos/7891-2.jpg", "two"}},
	})
	require.NoError(t, err)
	completed, ok := out.(backend.Completed)
	require.True(t, ok)
	require.Equal(t, model.StatusCompleted, completed.Payload.Status)
	require.Equal(t, []string{"7891-1.jpg=one", "7891-2.jpg=two"}, got)

	_, err = c.Upload(t.Context(), nil)
	require.ErrorIs(t, err, model.ErrNothingToUpload)
}

func TestLookupRecord(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch strings.TrimPrefix(r.URL.Path, "/products/by-barcode/") {
		case "7891":
			_, _ = io.WriteString(w, `{"products":[{"_id":"65f0","nome":"Blue mug","cod":"M-1","codbarras":"7891"}]}`)
		case "0000":
			_, _ = io.WriteString(w, `{"products":[]}`)
		case "5555":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"message":"database down"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	c := newClient(t, srv.URL, backend.StaticToken("secret"))

	rec, err := c.LookupRecord(t.Context(), "7891")
	require.NoError(t, err)
	require.Equal(t, model.ResolvedRecord{Key: "7891", ID: "65f0", DisplayName: "Blue mug", Code: "M-1", Found: true}, rec)

	for _, key := range []string{"0000", "4040"} {
		rec, err = c.LookupRecord(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, model.NotFound(key), rec)
	}

	_, err = c.LookupRecord(t.Context(), "5555")
	require.ErrorContains(t, err, "database down")
	require.False(t, backend.IsTransport(err))
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	token, err := backend.StaticToken("opaque-token").Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "opaque-token", token)

	fresh := signed(t, time.Now().Add(time.Hour))
	token, err = backend.StaticToken("Bearer " + fresh).Token(ctx)
	require.NoError(t, err)
	require.Equal(t, fresh, token)

	_, err = backend.StaticToken(signed(t, time.Now().Add(-time.Minute))).Token(ctx)
	require.ErrorIs(t, err, model.ErrCredentialExpired)

	_, err = backend.StaticToken("  ").Token(ctx)
	require.ErrorIs(t, err, model.ErrNoCredential)
}

func TestSessionFile(t *testing.T) {
	t.Setenv("IMGSYNC_TOKEN", "")
	dir := t.TempDir()

	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"loggedInUser":{"nome":"Ana","token":"from-session"}}`), 0o600))
	token, err := backend.SessionFile{Path: path}.Token(t.Context())
	require.NoError(t, err)
	require.Equal(t, "from-session", token)

	_, err = backend.SessionFile{Path: filepath.Join(dir, "missing.json")}.Token(t.Context())
	require.ErrorIs(t, err, model.ErrNoCredential)

	t.Setenv("IMGSYNC_TOKEN", "from-env")
	token, err = backend.SessionFile{Path: path}.Token(t.Context())
	require.NoError(t, err)
	require.Equal(t, "from-env", token)
}

func TestFromConfig(t *testing.T) {
	t.Setenv("SHOP_TOKEN", "env-token")
	creds, err := backend.FromConfig(model.Auth{Type: model.AuthTypeEnv, Variable: "SHOP_TOKEN"})
	require.NoError(t, err)
	token, err := creds.Token(t.Context())
	require.NoError(t, err)
	require.Equal(t, "env-token", token)

	_, err = backend.FromConfig(model.Auth{Type: "oauth"})
	require.Error(t, err)
}

package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/imagex/internal/archive"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := New(cfg, nil)
	t.Cleanup(s.Stop)
	return s
}

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == nil {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

type sessionBody struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Filter string `json:"filter"`
	Size   struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"size"`
	Params struct {
		Brightness int `json:"brightness"`
		Contrast   int `json:"contrast"`
		Saturation int `json:"saturation"`
	} `json:"params"`
	Renders int `json:"renders"`
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionBody {
	t.Helper()
	var sb sessionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sb), w.Body.String())
	return sb
}

func createSession(t *testing.T, s *Server, c color.NRGBA) sessionBody {
	t.Helper()
	body, ct := multipartBody(t, pngBytes(t, 4, 3, c), nil)
	w := do(t, s, http.MethodPost, "/api/v1/sessions", body.Bytes(), ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeSession(t, w)
}

func TestHealthAndFilters(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/filters", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Filters []string `json:"filters"`
		Formats []string `json:"formats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"none", "grayscale", "sepia", "invert"}, body.Filters)
	assert.Contains(t, body.Formats, "png")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, Config{})

	sb := createSession(t, s, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	assert.NotEmpty(t, sb.ID)
	assert.Equal(t, "ready", sb.State)
	assert.Equal(t, 4, sb.Size.Width)
	assert.Equal(t, 3, sb.Size.Height)
	assert.Equal(t, 100, sb.Params.Brightness)
	assert.Equal(t, "none", sb.Filter)

	w := do(t, s, http.MethodPatch, "/api/v1/sessions/"+sb.ID,
		[]byte(`{"brightness":150,"contrast":120,"saturation":80,"filter":"grayscale"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sb = decodeSession(t, w)
	assert.Equal(t, 150, sb.Params.Brightness)
	assert.Equal(t, "grayscale", sb.Filter)
	assert.Equal(t, 2, sb.Renders)

	// Partial update keeps the other fields.
	w = do(t, s, http.MethodPatch, "/api/v1/sessions/"+sb.ID, []byte(`{"contrast":120}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	sb = decodeSession(t, w)
	assert.Equal(t, 150, sb.Params.Brightness)
	assert.Equal(t, 2, sb.Renders, "unchanged inputs must not re-render")

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID+"/export", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=edited-image.png", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 222, G: 222, B: 222, A: 255}, color.NRGBAModel.Convert(img.At(0, 0)))

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodDelete, "/api/v1/sessions/"+sb.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportFormats(t *testing.T) {
	s := newTestServer(t, Config{})
	sb := createSession(t, s, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	w := do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID+"/export?format=jpeg&quality=80", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=edited-image.jpg", w.Header().Get("Content-Disposition"))

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID+"/export?format=gif", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID+"/export?quality=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, Config{})

	// Unknown session.
	w := do(t, s, http.MethodGet, "/api/v1/sessions/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Corrupt upload.
	body, ct := multipartBody(t, []byte("definitely not an image"), nil)
	w = do(t, s, http.MethodPost, "/api/v1/sessions", body.Bytes(), ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 0, s.Status().Sessions, "failed initial upload must not leave a session")

	// Idle session: adjustments and export are rejected.
	w = do(t, s, http.MethodPost, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	idle := decodeSession(t, w)
	assert.Equal(t, "idle", idle.State)

	w = do(t, s, http.MethodPatch, "/api/v1/sessions/"+idle.ID, []byte(`{"brightness":120}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+idle.ID+"/export", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+idle.ID+"/preview", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Invalid parameters keep the session untouched.
	ready := createSession(t, s, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	for _, payload := range []string{`{"brightness":201}`, `{"saturation":-1}`, `{"filter":"vintage"}`, `{not json`} {
		w = do(t, s, http.MethodPatch, "/api/v1/sessions/"+ready.ID, []byte(payload), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code, payload)
	}
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+ready.ID, nil, "")
	sb := decodeSession(t, w)
	assert.Equal(t, "ready", sb.State)
	assert.Equal(t, 100, sb.Params.Brightness)
	assert.Equal(t, "none", sb.Filter)
}

func TestReuploadReplacesImage(t *testing.T) {
	s := newTestServer(t, Config{})
	sb := createSession(t, s, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	w := do(t, s, http.MethodPut, "/api/v1/sessions/"+sb.ID+"/image", pngBytes(t, 7, 5, color.NRGBA{A: 255}), "image/png")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeSession(t, w)
	assert.Equal(t, 7, got.Size.Width)
	assert.Equal(t, 5, got.Size.Height)

	// A failed re-upload leaves the session idle.
	w = do(t, s, http.MethodPut, "/api/v1/sessions/"+sb.ID+"/image", []byte("junk"), "application/octet-stream")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID, nil, "")
	assert.Equal(t, "idle", decodeSession(t, w).State)
}

func TestAsyncUpload(t *testing.T) {
	s := newTestServer(t, Config{})
	w := do(t, s, http.MethodPost, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeSession(t, w).ID

	w = do(t, s, http.MethodPut, "/api/v1/sessions/"+id+"/image?wait=false", pngBytes(t, 2, 2, color.NRGBA{A: 255}), "image/png")
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		w := do(t, s, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
		return decodeSession(t, w).State == "ready"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, Config{MaxUploadBytes: 16})

	w := do(t, s, http.MethodPost, "/api/v1/render", bytes.Repeat([]byte{1}, 64), "application/octet-stream")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadResolutionLimit(t *testing.T) {
	s := newTestServer(t, Config{MaxPixels: 100})
	sb := createSession(t, s, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	w := do(t, s, http.MethodPut, "/api/v1/sessions/"+sb.ID+"/image", pngBytes(t, 20, 10, color.NRGBA{A: 255}), "image/png")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// The refused upload never reached the session.
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID, nil, "")
	got := decodeSession(t, w)
	assert.Equal(t, "ready", got.State)
	assert.Equal(t, 4, got.Size.Width)

	w = do(t, s, http.MethodPut, "/api/v1/sessions/"+sb.ID+"/image", pngBytes(t, 10, 10, color.NRGBA{A: 255}), "image/png")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPreview(t *testing.T) {
	s := newTestServer(t, Config{})
	body, ct := multipartBody(t, pngBytes(t, 40, 20, color.NRGBA{R: 50, G: 60, B: 70, A: 255}), nil)
	w := do(t, s, http.MethodPost, "/api/v1/sessions", body.Bytes(), ct)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeSession(t, w).ID

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+id+"/preview?max=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Render-Seq"))
	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Width)
	assert.Equal(t, 5, cfg.Height)

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+id+"/preview?max=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The export keeps native resolution.
	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+id+"/export", nil, "")
	cfg, err = png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
}

func TestOneShotRender(t *testing.T) {
	s := newTestServer(t, Config{})

	body, ct := multipartBody(t, pngBytes(t, 2, 2, color.NRGBA{R: 200, G: 100, B: 50, A: 255}),
		map[string]string{"filter": "sepia"})
	w := do(t, s, http.MethodPost, "/api/v1/render", body.Bytes(), ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 165, G: 147, B: 114, A: 255}, color.NRGBAModel.Convert(img.At(1, 1)))

	body, ct = multipartBody(t, pngBytes(t, 2, 2, color.NRGBA{A: 255}), map[string]string{"brightness": "x"})
	w = do(t, s, http.MethodPost, "/api/v1/render", body.Bytes(), ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	st := s.Status()
	assert.Equal(t, int64(1), st.TotalExports)
}

func TestArchiveEndpoints(t *testing.T) {
	w := do(t, newTestServer(t, Config{}), http.MethodGet, "/api/v1/exports", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	store, err := archive.Open(filepath.Join(t.TempDir(), "exports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := newTestServer(t, Config{Archive: store})
	sb := createSession(t, s, color.NRGBA{R: 9, G: 9, B: 9, A: 255})

	w = do(t, s, http.MethodGet, "/api/v1/sessions/"+sb.ID+"/export", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	name := w.Header().Get("X-Archive-Name")
	require.NotEmpty(t, name)
	assert.True(t, strings.HasPrefix(name, "edited-image-"))
	exported := w.Body.Bytes()

	w = do(t, s, http.MethodGet, "/api/v1/exports", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Exports []struct {
			Name  string `json:"name"`
			Bytes int    `json:"bytes"`
		} `json:"exports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Exports, 1)
	assert.Equal(t, name, list.Exports[0].Name)
	assert.Equal(t, len(exported), list.Exports[0].Bytes)

	w = do(t, s, http.MethodGet, "/api/v1/exports/"+name, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, exported, w.Body.Bytes())

	w = do(t, s, http.MethodGet, "/api/v1/exports/missing.png", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Names from the CLI may carry spaces and quotes.
	odd := `my "holiday" photo.png`
	require.NoError(t, store.Put(archive.Entry{Name: odd, Format: "png", Data: exported}))
	w = do(t, s, http.MethodGet, "/api/v1/exports/my%20%22holiday%22%20photo.png", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	disposition, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, odd, params["filename"])
}

func TestSessionLimitAndExpiry(t *testing.T) {
	s := newTestServer(t, Config{MaxSessions: 1, SessionTTL: time.Minute})

	w := do(t, s, http.MethodPost, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, s, http.MethodPost, "/api/v1/sessions", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	assert.Equal(t, 0, s.expireIdle(time.Now()))
	assert.Equal(t, 1, s.expireIdle(time.Now().Add(2*time.Minute)))

	st := s.Status()
	assert.Equal(t, 0, st.Sessions)
	assert.Equal(t, int64(1), st.Expired)
}

func TestStatusCounters(t *testing.T) {
	s := newTestServer(t, Config{})
	sb := createSession(t, s, color.NRGBA{R: 1, A: 255})
	do(t, s, http.MethodPatch, "/api/v1/sessions/"+sb.ID, []byte(`{"filter":"invert"}`), "application/json")

	w := do(t, s, http.MethodGet, "/api/v1/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, int64(1), st.TotalUploads)
	assert.Equal(t, int64(2), st.TotalRenders)
	assert.Equal(t, 0, st.ActiveDecodes)
	assert.False(t, st.Archive)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Config{})
	w := do(t, s, http.MethodOptions, "/api/v1/sessions", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"

	handlers "tryon/internal/http/handlers"
	"tryon/internal/http/httpapi"
	"tryon/internal/i18n"
	"tryon/internal/imageenc"
	"tryon/internal/infra"
	"tryon/internal/metrics"
	imageprovider "tryon/internal/providers/image"
	"tryon/internal/session"
	"tryon/internal/wizard"
)

type fixedGenerator struct {
	result *imageprovider.TryOnResult
	err    error
	calls  atomic.Int32
	last   atomic.Value
}

func (g *fixedGenerator) Generate(_ context.Context, req imageprovider.TryOnRequest) (*imageprovider.TryOnResult, error) {
	g.calls.Add(1)
	g.last.Store(req)
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type testEnv struct {
	app     *handlers.App
	router  http.Handler
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T, gen imageprovider.Generator, maxBytes int64) *testEnv {
	t.Helper()
	cfg := &infra.Config{
		AppEnv:          "test",
		RateLimitPerMin: 100,
	}
	logger := infra.NewLogger("test")
	collector := metrics.NewCollector("tryon")
	store := session.NewStore(session.Options{
		Factory: func(id, locale string) *wizard.Controller {
			return wizard.NewController(wizard.Options{
				SessionID: id,
				Generator: gen,
				Logger:    logger,
				Recorder:  collector,
				Locale:    func() string { return locale },
			})
		},
		Logger:       logger,
		OnSizeChange: collector.SetActiveSessions,
	})
	app := &handlers.App{
		Config:   cfg,
		Logger:   logger,
		Sessions: store,
		Encoder:  imageenc.NewEncoder(maxBytes),
		Catalog:  i18n.New("en"),
		Metrics:  collector,
	}
	return &testEnv{app: app, router: httpapi.NewRouter(app), metrics: collector}
}

type sessionDTO struct {
	ID      string `json:"id"`
	Step    string `json:"step"`
	Product *struct {
		MIMEType   string `json:"mime_type"`
		PreviewURL string `json:"preview_url"`
	} `json:"product"`
	Model *struct {
		MIMEType string `json:"mime_type"`
	} `json:"model"`
	Result *struct {
		MIMEType string `json:"mime_type"`
		URL      string `json:"url"`
	} `json:"result"`
	Message     string `json:"message"`
	CanAdvance  bool   `json:"can_advance"`
	CanGenerate bool   `json:"can_generate"`
}

type errorDTO struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, id, slot, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, data)
	return e.do(t, http.MethodPut, "/v1/sessions/"+id+"/"+slot, body, ct)
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionDTO {
	t.Helper()
	var dto sessionDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode session: %v (%s)", err, rec.Body.String())
	}
	return dto
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDTO {
	t.Helper()
	var dto errorDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return dto
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", rec.Code, http.StatusCreated)
	}
	dto := decodeSession(t, rec)
	if dto.ID == "" || dto.Step != "awaiting_product" {
		t.Fatalf("unexpected new session: %+v", dto)
	}
	return dto.ID
}

func TestSessionLifecycle(t *testing.T) {
	resultPNG := pngBytes(t, color.RGBA{R: 200, A: 255})
	gen := &fixedGenerator{result: &imageprovider.TryOnResult{
		Data:     base64.StdEncoding.EncodeToString(resultPNG),
		MIMEType: "image/png",
	}}
	env := newTestEnv(t, gen, 0)
	id := env.createSession(t)

	productPNG := pngBytes(t, color.RGBA{G: 200, A: 255})
	rec := env.upload(t, id, "product", "shirt.png", "image/png", productPNG)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload product status = %d (%s)", rec.Code, rec.Body.String())
	}
	dto := decodeSession(t, rec)
	if dto.Product == nil || dto.Product.MIMEType != "image/png" || !dto.CanAdvance {
		t.Fatalf("product not stored: %+v", dto)
	}
	wantPreview := "data:image/png;base64," + base64.StdEncoding.EncodeToString(productPNG)
	if dto.Product.PreviewURL != wantPreview {
		t.Fatalf("preview url mismatch")
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/advance", nil, "")
	if rec.Code != http.StatusOK || decodeSession(t, rec).Step != "awaiting_model" {
		t.Fatalf("advance status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", nil, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("generate without model status = %d, want 422", rec.Code)
	}
	if got := decodeError(t, rec); got.Error.Code != "validation" || got.Error.Message != wizard.MsgMissingImages {
		t.Fatalf("validation error = %+v", got)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator called without a model image")
	}

	rec = env.upload(t, id, "model", "person.png", "image/png", pngBytes(t, color.RGBA{B: 200, A: 255}))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload model status = %d (%s)", rec.Code, rec.Body.String())
	}
	if dto := decodeSession(t, rec); !dto.CanGenerate || dto.Message != wizard.MsgMissingImages {
		t.Fatalf("model upload snapshot = %+v", dto)
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate?wait=true", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d (%s)", rec.Code, rec.Body.String())
	}
	dto = decodeSession(t, rec)
	if dto.Step != "showing_result" || dto.Result == nil || dto.Message != "" {
		t.Fatalf("generate snapshot = %+v", dto)
	}
	req := gen.last.Load().(imageprovider.TryOnRequest)
	if req.Product.PreviewURL != wantPreview {
		t.Fatalf("generator received wrong product image")
	}

	rec = env.do(t, http.MethodGet, dto.Result.URL, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/png" || !bytes.Equal(rec.Body.Bytes(), resultPNG) {
		t.Fatalf("result bytes mismatch (content-type %q)", rec.Header().Get("Content-Type"))
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/reset", nil, "")
	dto = decodeSession(t, rec)
	if dto.Step != "awaiting_product" || dto.Product != nil || dto.Model != nil || dto.Result != nil {
		t.Fatalf("reset snapshot = %+v", dto)
	}
	if rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/result", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("result after reset status = %d, want 404", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/v1/sessions/"+id, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/sessions/"+id, nil, "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error.Code != "not_found" {
		t.Fatalf("get after delete status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestGenerationFailureReturnsToModelStep(t *testing.T) {
	gen := &fixedGenerator{err: errors.New("model overloaded")}
	env := newTestEnv(t, gen, 0)
	id := env.createSession(t)

	env.upload(t, id, "product", "a.png", "image/png", pngBytes(t, color.White))
	env.do(t, http.MethodPost, "/v1/sessions/"+id+"/advance", nil, "")
	env.upload(t, id, "model", "b.png", "image/png", pngBytes(t, color.Black))

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate?wait=1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d", rec.Code)
	}
	dto := decodeSession(t, rec)
	if dto.Step != "awaiting_model" || dto.Message != "model overloaded" || dto.Result != nil {
		t.Fatalf("failure snapshot = %+v", dto)
	}
	if dto.Product == nil || dto.Model == nil {
		t.Fatalf("images should survive a failed attempt: %+v", dto)
	}

	dto = decodeSession(t, env.do(t, http.MethodPost, "/v1/sessions/"+id+"/back", nil, ""))
	if dto.Step != "awaiting_product" || dto.Message != "" {
		t.Fatalf("snapshot after back = %+v", dto)
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name        string
		maxBytes    int64
		filename    string
		contentType string
		data        func(t *testing.T) []byte
		wantStatus  int
		wantCode    string
	}{
		{
			name:        "unsupported type",
			filename:    "notes.txt",
			contentType: "text/plain",
			data:        func(*testing.T) []byte { return []byte("hello") },
			wantStatus:  http.StatusUnsupportedMediaType,
			wantCode:    "unsupported_type",
		},
		{
			name:        "sniffed gif is rejected",
			filename:    "anim.gif",
			contentType: "",
			data:        func(*testing.T) []byte { return []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;") },
			wantStatus:  http.StatusUnsupportedMediaType,
			wantCode:    "unsupported_type",
		},
		{
			name:        "corrupt png",
			filename:    "broken.png",
			contentType: "image/png",
			data:        func(*testing.T) []byte { return []byte("\x89PNG\r\n\x1a\nnot really") },
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    "unreadable_file",
		},
		{
			name:        "too large",
			maxBytes:    16,
			filename:    "big.png",
			contentType: "image/png",
			data:        func(t *testing.T) []byte { return pngBytes(t, color.White) },
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantCode:    "too_large",
		},
		{
			name:        "dimensions over pixel budget",
			filename:    "huge.png",
			contentType: "image/png",
			data:        func(*testing.T) []byte { return hugeDeclaredPNG() },
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantCode:    "too_large",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &fixedGenerator{}, tc.maxBytes)
			id := env.createSession(t)
			rec := env.upload(t, id, "product", tc.filename, tc.contentType, tc.data(t))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec).Error.Code; got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
			snap := decodeSession(t, env.do(t, http.MethodGet, "/v1/sessions/"+id, nil, ""))
			if snap.Product != nil {
				t.Fatalf("slot changed after failed upload")
			}
		})
	}
}

// hugeDeclaredPNG is a header-only PNG claiming 50000x50000 gray pixels.
func hugeDeclaredPNG() []byte {
	chunk := func(buf *bytes.Buffer, kind string, data []byte) {
		_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
		buf.WriteString(kind)
		buf.Write(data)
		_ = binary.Write(buf, binary.BigEndian, crc32.ChecksumIEEE(append([]byte(kind), data...)))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 50000)
	binary.BigEndian.PutUint32(ihdr[4:8], 50000)
	ihdr[8] = 8
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk(&buf, "IHDR", ihdr)
	chunk(&buf, "IEND", nil)
	return buf.Bytes()
}

func TestUploadWithoutFileIsNoop(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)
	id := env.createSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "nothing chosen"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	_ = mw.Close()

	rec := env.do(t, http.MethodPut, "/v1/sessions/"+id+"/product", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if dto := decodeSession(t, rec); dto.Product != nil || dto.Step != "awaiting_product" {
		t.Fatalf("snapshot changed: %+v", dto)
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)
	id := env.createSession(t)

	tests := []struct {
		path string
		code string
	}{
		{path: "/back", code: "invalid_transition"},
		{path: "/advance", code: "guard_failed"},
		{path: "/generate", code: "invalid_transition"},
	}
	for _, tc := range tests {
		rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+tc.path, nil, "")
		if rec.Code != http.StatusConflict {
			t.Fatalf("%s status = %d, want 409", tc.path, rec.Code)
		}
		if got := decodeError(t, rec).Error.Code; got != tc.code {
			t.Fatalf("%s code = %q, want %q", tc.path, got, tc.code)
		}
	}
}

func TestErrorMessagesAreLocalised(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)
	id := env.createSession(t)
	body, ct := multipartBody(t, "notes.txt", "text/plain", []byte("hi"))
	rec := env.do(t, http.MethodPut, "/v1/sessions/"+id+"/product", body, ct, "Accept-Language", "id-ID")
	if got := decodeError(t, rec).Error.Message; got != "Hanya gambar PNG, JPG, atau WEBP yang diterima." {
		t.Fatalf("message = %q", got)
	}
}

func TestSessionLocaleReachesGenerator(t *testing.T) {
	gen := &fixedGenerator{result: &imageprovider.TryOnResult{Data: "AA==", MIMEType: "image/png"}}
	env := newTestEnv(t, gen, 0)

	rec := env.do(t, http.MethodPost, "/v1/sessions", nil, "", "X-Locale", "id")
	id := decodeSession(t, rec).ID
	env.upload(t, id, "product", "a.png", "image/png", pngBytes(t, color.White))
	env.do(t, http.MethodPost, "/v1/sessions/"+id+"/advance", nil, "")
	env.upload(t, id, "model", "b.png", "image/png", pngBytes(t, color.Black))
	env.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate?wait=true", nil, "")

	req, ok := gen.last.Load().(imageprovider.TryOnRequest)
	if !ok || req.Locale != "id" {
		t.Fatalf("generator locale = %q", req.Locale)
	}
}

func TestWizardPagePostRedirectGet(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)

	rec := env.do(t, http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("root status = %d, want 303", rec.Code)
	}
	page := rec.Header().Get("Location")
	if !strings.HasPrefix(page, "/wizard/") {
		t.Fatalf("redirect location = %q", page)
	}

	rec = env.do(t, http.MethodGet, page, nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Step 1: Upload Product Image") {
		t.Fatalf("page status = %d", rec.Code)
	}

	body, ct := multipartBody(t, "shirt.png", "image/png", pngBytes(t, color.White))
	rec = env.do(t, http.MethodPost, page+"/product", body, ct)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != page {
		t.Fatalf("upload redirect = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = env.do(t, http.MethodPost, page+"/next", nil, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("next status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, page, nil, "")
	if !strings.Contains(rec.Body.String(), "Step 2: Upload Model Image") {
		t.Fatalf("expected model step after next")
	}

	body, ct = multipartBody(t, "notes.txt", "text/plain", []byte("hi"))
	rec = env.do(t, http.MethodPost, page+"/model", body, ct)
	loc := rec.Header().Get("Location")
	if loc != page+"?notice=unsupported_type" {
		t.Fatalf("notice redirect = %q", loc)
	}
	rec = env.do(t, http.MethodGet, loc, nil, "", "Accept-Language", "id")
	if !strings.Contains(rec.Body.String(), "Hanya gambar PNG, JPG, atau WEBP yang diterima.") {
		t.Fatalf("localised notice missing")
	}

	rec = env.do(t, http.MethodPost, page+"/generate", nil, "")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("generate status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, page, nil, "")
	if !strings.Contains(rec.Body.String(), wizard.MsgMissingImages) {
		t.Fatalf("validation message missing from page")
	}

	if rec := env.do(t, http.MethodPost, page+"/unknown", nil, ""); rec.Code == http.StatusSeeOther {
		t.Fatalf("unknown action should not redirect")
	}
}

func TestGenerateRateLimit(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)
	env.app.Config.RateLimitPerMin = 1
	env.router = httpapi.NewRouter(env.app)
	id := env.createSession(t)

	if rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", nil, ""); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first generate was throttled")
	}
	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", nil, "", "Accept-Language", "id")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}
	body := decodeError(t, rec)
	if body.Error.Code != "rate_limited" || body.Error.Message != "Terlalu banyak permintaan coba virtual. Mohon tunggu sebentar lalu coba lagi." {
		t.Fatalf("error body = %+v", body)
	}

	page := "/wizard/" + id
	rec = env.do(t, http.MethodPost, page+"/generate", nil, "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != page+"?notice=rate_limited" {
		t.Fatalf("wizard throttle = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = env.do(t, http.MethodGet, rec.Header().Get("Location"), nil, "")
	if !strings.Contains(rec.Body.String(), "Too many try-on requests.") {
		t.Fatalf("rate limit notice missing from page")
	}
}

func TestWizardPageUnknownSessionStartsOver(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)
	rec := env.do(t, http.MethodGet, "/wizard/00000000-0000-0000-0000-000000000000", nil, "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, &fixedGenerator{}, 0)
	env.createSession(t)

	rec := env.do(t, http.MethodGet, "/v1/healthz", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sessions":1`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/metrics", nil, "")
	body := rec.Body.String()
	for _, want := range []string{
		"tryon_active_sessions 1",
		`tryon_http_requests_total{method="POST",route="/v1/sessions`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

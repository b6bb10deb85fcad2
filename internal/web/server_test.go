package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shopcsv/internal/config"
	"github.com/JonMunkholm/shopcsv/internal/shop"
	"github.com/JonMunkholm/shopcsv/internal/store/memory"
)

func newTestServer(t *testing.T, env map[string]string) (*Server, *memory.Store) {
	t.Helper()
	vals := map[string]string{
		"DATABASE_URL":       "postgres://test@localhost/test",
		"RATE_LIMIT_ENABLED": "false",
	}
	for k, v := range env {
		vals[k] = v
	}
	cfg, err := config.LoadFrom(func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	})
	require.NoError(t, err)

	store := memory.New()
	return NewServer(store, cfg), store
}

type filePart struct {
	name        string
	contentType string
	body        string
}

func uploadRequest(t *testing.T, path string, file *filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		ct := file.contentType
		if ct == "" {
			ct = "text/csv"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(part, file.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestUploadProducts_Created(t *testing.T) {
	s, store := newTestServer(t, nil)

	req := uploadRequest(t, "/api/products/upload_csv", &filePart{
		name: "products.csv",
		body: "name,description,price,discount\nWidget,small,9.99,5\nGadget,,12,\n",
	}, nil)
	rec := serve(s, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Len(t, body["products"], 2)
	assert.NotEmpty(t, body["run_id"])

	products, orders := store.Counts()
	assert.Equal(t, 2, products)
	assert.Zero(t, orders)
}

func TestUploadProducts_InvalidRowWritesNothing(t *testing.T) {
	s, store := newTestServer(t, nil)

	req := uploadRequest(t, "/api/products/upload_csv", &filePart{
		name: "products.csv",
		body: "name,price\nWidget,1\nBroken,abc\n",
	}, nil)
	rec := serve(s, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Failure)
	assert.Equal(t, 3, body.Failure.Line)
	assert.Equal(t, "price", body.Failure.Column)
	assert.Nil(t, body.Result)

	products, _ := store.Counts()
	assert.Zero(t, products)
}

func TestUploadProducts_EncodingSources(t *testing.T) {
	// "Café" in windows-1252.
	latin := "name\nCaf\xe9\n"

	tests := []struct {
		name   string
		file   *filePart
		fields map[string]string
		env    map[string]string
	}{
		{"form field", &filePart{name: "p.csv", body: latin}, map[string]string{"encoding": "windows-1252"}, nil},
		{"part charset", &filePart{name: "p.csv", contentType: "text/csv; charset=windows-1252", body: latin}, nil, nil},
		{"configured default", &filePart{name: "p.csv", body: latin}, nil, map[string]string{"UPLOAD_DEFAULT_ENCODING": "latin1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestServer(t, tt.env)
			rec := serve(s, uploadRequest(t, "/api/products/upload_csv", tt.file, tt.fields))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			got, err := store.ProductByName(context.Background(), "Café")
			require.NoError(t, err)
			assert.Equal(t, "Café", got.Name)
		})
	}
}

func TestUploadProducts_RequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		file     *filePart
		fields   map[string]string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing file part",
			fields:   map[string]string{"encoding": "utf-8"},
			wantCode: http.StatusBadRequest,
			wantErr:  "FILE004",
		},
		{
			name:     "unknown encoding",
			file:     &filePart{name: "p.csv", body: "name\nx\n"},
			fields:   map[string]string{"encoding": "klingon"},
			wantCode: http.StatusUnsupportedMediaType,
		},
		{
			name:     "file over the size limit",
			env:      map[string]string{"UPLOAD_MAX_FILE_SIZE": "32"},
			file:     &filePart{name: "p.csv", body: "name\n" + strings.Repeat("Widget\n", 20)},
			wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:     "unknown column",
			file:     &filePart{name: "p.csv", body: "name,colour\nx,red\n"},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "VAL005",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.env)
			rec := serve(s, uploadRequest(t, "/api/products/upload_csv", tt.file, tt.fields))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Message)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body.Code)
			}
		})
	}
}

func TestUploadProducts_NotMultipart(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/products/upload_csv", strings.NewReader("name\nx\n"))
	req.Header.Set("Content-Type", "text/csv")

	rec := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadOrders_Created(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()
	_, err := store.CreateUser(ctx, "alice")
	require.NoError(t, err)

	rec := serve(s, uploadRequest(t, "/api/products/upload_csv", &filePart{
		name: "products.csv",
		body: "name,price\nWidget,9.99\nGadget,3\n",
	}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(s, uploadRequest(t, "/api/orders/upload_csv", &filePart{
		name: "orders.csv",
		body: "delivery_address,promocode,user\n1 Main St,SAVE10,alice,Widget,Gadget\n,,alice,Gadget\n",
	}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["created"])
	assert.Len(t, body["orders"], 2)

	orders, err := store.ListOrders(ctx, shop.ListOptions{})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Len(t, orders[0].Products, 2)
	assert.Len(t, orders[1].Products, 1)
}

func TestUploadOrders_PartialImportReportsCommittedRows(t *testing.T) {
	s, store := newTestServer(t, nil)
	_, err := store.CreateUser(context.Background(), "alice")
	require.NoError(t, err)

	rec := serve(s, uploadRequest(t, "/api/orders/upload_csv", &filePart{
		name: "orders.csv",
		body: "user,promocode\nalice,A\nalice,B\nmallory,C\n",
	}, nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body struct {
		Code    string `json:"code"`
		Failure struct {
			Line int    `json:"line"`
			Code string `json:"code"`
		} `json:"failure"`
		Result struct {
			Orders []json.RawMessage `json:"orders"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "REF001", body.Code)
	assert.Equal(t, 4, body.Failure.Line)
	assert.Len(t, body.Result.Orders, 2)

	_, orders := store.Counts()
	assert.Equal(t, 2, orders)
}

func TestUploadOrders_APIKey(t *testing.T) {
	env := map[string]string{"REQUIRE_API_KEY": "true", "API_KEYS": "secret"}
	s, store := newTestServer(t, env)
	_, err := store.CreateUser(context.Background(), "alice")
	require.NoError(t, err)

	file := &filePart{name: "orders.csv", body: "user\nalice\n"}

	rec := serve(s, uploadRequest(t, "/api/orders/upload_csv", file, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := uploadRequest(t, "/api/orders/upload_csv", file, nil)
	req.Header.Set("X-API-Key", "secret")
	rec = serve(s, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Reads stay open.
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/orders/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func seedCatalog(t *testing.T, store *memory.Store) (shop.User, shop.User) {
	t.Helper()
	ctx := context.Background()
	alice, err := store.CreateUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, "bob")
	require.NoError(t, err)

	widget, gadget := shop.NewProduct(), shop.NewProduct()
	widget.Name, gadget.Name = "Widget", "Gadget"
	require.NoError(t, store.BulkCreateProducts(ctx, []*shop.Product{widget, gadget}))

	for _, o := range []struct {
		user     shop.User
		products []int64
	}{
		{alice, []int64{widget.ID, gadget.ID}},
		{bob, []int64{gadget.ID}},
		{alice, nil},
	} {
		order := shop.NewOrder(o.user)
		require.NoError(t, store.CreateOrder(ctx, order))
		require.NoError(t, store.SetOrderProducts(ctx, order.ID, o.products))
	}
	return alice, bob
}

func TestListProducts(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedCatalog(t, store)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/products/?ordering=-name", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var products []shop.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "Widget", products[0].Name)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/products/?search=gad", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Gadget", products[0].Name)
}

func TestListProducts_InvalidOrdering(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/products/?ordering=password", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL006", decodeBody(t, rec)["code"])
}

func TestDownloadProductsCSV_RoundTrip(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedCatalog(t, store)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/products/download_csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), productsExportName)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "name,description,price,discount"), rec.Body.String())

	rec = serve(s, uploadRequest(t, "/api/products/upload_csv", &filePart{
		name: productsExportName,
		body: rec.Body.String(),
	}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	products, _ := store.Counts()
	assert.Equal(t, 4, products)
}

func TestListOrders_FilterByUser(t *testing.T) {
	s, store := newTestServer(t, nil)
	_, bob := seedCatalog(t, store)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/orders/?user=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []shop.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, bob.ID, orders[0].User.ID)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/orders/?user=bob", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL009", decodeBody(t, rec)["code"])
}

func TestExportOrders(t *testing.T) {
	s, store := newTestServer(t, nil)
	alice, _ := seedCatalog(t, store)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/orders/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var all struct {
		Orders []orderExport `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Orders, 3)

	path := "/api/users/" + jsonID(alice.ID) + "/orders/export"
	rec = serve(s, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var mine struct {
		Orders []orderExport `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine.Orders, 2)
	for _, o := range mine.Orders {
		assert.Equal(t, alice.ID, o.User)
		assert.NotNil(t, o.Products)
	}
}

func TestExportUserOrders_Errors(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/users/99/orders/export", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "REF004", decodeBody(t, rec)["code"])

	for _, id := range []string{"abc", "0", "-3"} {
		rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/users/"+id+"/orders/export", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, id)
		assert.Equal(t, "VAL009", decodeBody(t, rec)["code"], id)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	serve(s, uploadRequest(t, "/api/products/upload_csv", &filePart{name: "p.csv", body: "name\nWidget\n"}, nil))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `shopcsv_import_runs_total{kind="products",outcome="ok"} 1`)
	assert.Contains(t, out, "shopcsv_import_slots_available")
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "clients are limited independently")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.allow("10.0.0.1"), "allowance refills after the window")
}

func TestRateLimiter_Middleware(t *testing.T) {
	s, _ := newTestServer(t, map[string]string{
		"RATE_LIMIT_ENABLED":             "true",
		"RATE_LIMIT_REQUESTS_PER_MINUTE": "1",
	})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeBody(t, rec)["code"])
}

func TestStatusFor_BadParameter(t *testing.T) {
	_, err := parseID("abc")
	require.ErrorIs(t, err, errBadParam)
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("user id: %w", err)))
}

func TestStatusFor_Context(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusRequestTimeout, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// echoServer answers with its name, the path and selected headers
func echoServer(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service":       name,
			"method":        r.Method,
			"path":          r.URL.Path,
			"query":         r.URL.RawQuery,
			"authorization": r.Header.Get("Authorization"),
			"correlation":   r.Header.Get("X-Correlation-ID"),
			"body":          string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// closeNotifyRecorder lets httputil.ReverseProxy run behind gin in tests:
// gin's CloseNotify panics when the underlying writer is a plain
// httptest.ResponseRecorder, which lacks http.CloseNotifier
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func newRecorder() closeNotifyRecorder {
	return closeNotifyRecorder{httptest.NewRecorder()}
}

func newTestRouter(t *testing.T, cfg config.GatewayConfig) *gin.Engine {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	r := gin.New()
	g.Register(r)
	return r
}

func TestGateway_Routes(t *testing.T) {
	catalog := echoServer(t, "catalog")
	order := echoServer(t, "order")
	design := echoServer(t, "design")

	r := newTestRouter(t, config.GatewayConfig{
		CatalogURL: catalog.URL,
		OrderURL:   order.URL,
		DesignURL:  design.URL,
		Timeout:    time.Second,
	})

	tests := []struct {
		method, path, service string
	}{
		{"GET", "/api/v1/catalog", "catalog"},
		{"GET", "/api/v1/catalog/p1", "catalog"},
		{"GET", "/api/v1/orders", "order"},
		{"POST", "/api/v1/orders", "order"},
		{"GET", "/api/v1/orders/o1", "order"},
		{"POST", "/api/v1/designs", "design"},
		{"GET", "/api/v1/designs/d1", "design"},
		{"POST", "/auth/token", "order"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path+"?x=1", strings.NewReader(`{"k":"v"}`))
			req.Header.Set("Authorization", "Bearer abc")
			req.Header.Set("X-Correlation-ID", "corr-9")
			w := newRecorder()
			r.ServeHTTP(w, req)

			// upstream status and body pass through untouched
			require.Equal(t, http.StatusTeapot, w.Code)
			var got map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.service, got["service"])
			assert.Equal(t, tt.method, got["method"])
			assert.Equal(t, tt.path, got["path"])
			assert.Equal(t, "x=1", got["query"])
			assert.Equal(t, "Bearer abc", got["authorization"])
			assert.Equal(t, "corr-9", got["correlation"])
			assert.Equal(t, `{"k":"v"}`, got["body"])
		})
	}
}

func TestGateway_UnknownRoute(t *testing.T) {
	up := echoServer(t, "any")
	r := newTestRouter(t, config.GatewayConfig{CatalogURL: up.URL, OrderURL: up.URL, DesignURL: up.URL})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateway_UpstreamUnreachable(t *testing.T) {
	// a closed server leaves a port nothing listens on
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	up := echoServer(t, "catalog")
	r := newTestRouter(t, config.GatewayConfig{CatalogURL: up.URL, OrderURL: deadURL, DesignURL: up.URL, Timeout: time.Second})

	w := newRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/orders", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "order service unavailable", body["message"])
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(config.GatewayConfig{CatalogURL: "not a url", OrderURL: "http://o", DesignURL: "http://d"})
	assert.Error(t, err)

	_, err = New(config.GatewayConfig{CatalogURL: "http://c", OrderURL: "", DesignURL: "http://d"})
	assert.Error(t, err)
}

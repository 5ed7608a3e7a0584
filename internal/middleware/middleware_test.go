package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/monitor"
	"storefront/pkg/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) utils.Response {
	t.Helper()
	var response utils.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"ok", "/ok?page=1", 200},
		{"client error", "/bad", 400},
		{"server error", "/fail", 500},
	}

	r := gin.New()
	r.Use(CorrelationID(), Logger())
	r.GET("/ok", func(c *gin.Context) { c.Status(200) })
	r.GET("/bad", func(c *gin.Context) { c.Status(400) })
	r.GET("/fail", func(c *gin.Context) { c.Status(500) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("test panic") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))

	assert.Equal(t, 500, w.Code)
	assert.Equal(t, utils.CodeInternalError, decodeBody(t, w).Code)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		method         string
		expectedStatus int
		checkHeaders   bool
	}{
		{"simple request", "http://localhost:3000", "GET", 200, true},
		{"preflight", "http://localhost:3000", "OPTIONS", 204, true},
		{"no origin", "", "GET", 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS())
			r.GET("/test", func(c *gin.Context) { c.JSON(200, gin.H{"message": "ok"}) })

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == "OPTIONS" {
				req.Header.Set("Access-Control-Request-Method", "GET")
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkHeaders {
				assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSWithOrigins(t *testing.T) {
	r := gin.New()
	r.Use(CORSWithOrigins([]string{"https://shop.example"}))
	r.GET("/test", func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://shop.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func testValidator(token string) (*UserInfo, error) {
	switch token {
	case "valid_token":
		return &UserInfo{ID: "demo", Role: "developer"}, nil
	case "guest_token":
		return &UserInfo{ID: "guest", Role: "guest"}, nil
	}
	return nil, assert.AnError
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedUser   string
	}{
		{"valid token", "Bearer valid_token", 200, "demo"},
		{"invalid token", "Bearer invalid_token", 401, ""},
		{"no header", "", 401, ""},
		{"wrong scheme", "Basic abc", 401, ""},
		{"empty bearer", "Bearer ", 401, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Auth(testValidator))
			r.GET("/test", func(c *gin.Context) {
				userID, _ := GetUserID(c)
				c.JSON(200, gin.H{"user_id": userID})
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == 200 {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.expectedUser, body["user_id"])
			} else {
				assert.Equal(t, utils.CodeUnauthorized, decodeBody(t, w).Code)
			}
		})
	}
}

func TestAuthWithConfig(t *testing.T) {
	r := gin.New()
	r.Use(AuthWithConfig(AuthConfig{
		TokenValidator: testValidator,
		SkipPaths:      []string{"/public"},
		RequiredRole:   "developer",
	}))
	r.GET("/public", func(c *gin.Context) { c.Status(200) })
	r.GET("/private", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/public", nil))
	assert.Equal(t, 200, w.Code)

	req := httptest.NewRequest("GET", "/private", nil)
	req.Header.Set(AuthorizationHeader, "Bearer guest_token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, 403, w.Code)
}

func TestGetUserID(t *testing.T) {
	tests := []struct {
		name     string
		userID   interface{}
		expected string
		exists   bool
	}{
		{"string id", "demo", "demo", true},
		{"empty id", "", "", false},
		{"wrong type", 123, "", false},
		{"absent", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			if tt.userID != nil {
				c.Set(UserIDKey, tt.userID)
			}

			userID, exists := GetUserID(c)
			assert.Equal(t, tt.expected, userID)
			assert.Equal(t, tt.exists, exists)
		})
	}
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name           string
		timeout        time.Duration
		handlerDelay   time.Duration
		expectedStatus int
	}{
		{"within deadline", 200 * time.Millisecond, 10 * time.Millisecond, 200},
		{"deadline exceeded", 20 * time.Millisecond, time.Second, 504},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Timeout(tt.timeout))
			r.GET("/test", func(c *gin.Context) {
				select {
				case <-time.After(tt.handlerDelay):
					c.JSON(200, gin.H{"message": "ok"})
				case <-c.Request.Context().Done():
				}
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(1, 2))
	r.GET("/test", func(c *gin.Context) { c.Status(200) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimit_Concurrent(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitWithConfig(RateLimitConfig{
		Rate:    1,
		Burst:   5,
		KeyFunc: func(c *gin.Context) string { return c.GetHeader("X-Client") },
	}))
	r.GET("/test", func(c *gin.Context) { c.Status(200) })

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Client", "a")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code == 200 {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
}

func TestCorrelationID(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/test", func(c *gin.Context) { c.String(200, GetCorrelationID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	generated := w.Header().Get(CorrelationIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())
}

type httpRecord struct {
	method, path, status string
}

type fakeHTTPRecorder struct {
	mu      sync.Mutex
	records []httpRecord
}

func (f *fakeHTTPRecorder) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, httpRecord{method, path, status})
}

func TestMetrics(t *testing.T) {
	rec := &fakeHTTPRecorder{}
	r := gin.New()
	r.Use(Metrics(rec), Tracing(monitor.NewNoopTracer()))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/items/42", nil))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/nowhere", nil))

	require.Len(t, rec.records, 2)
	assert.Equal(t, httpRecord{"GET", "/items/:id", "200"}, rec.records[0])
	assert.Equal(t, httpRecord{"GET", "unmatched", "404"}, rec.records[1])
}

func TestTracing_EchoesTraceID(t *testing.T) {
	r := gin.New()
	r.Use(Tracing(monitor.NewNoopTracer()))
	r.GET("/items", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/items", nil))
	assert.Empty(t, w.Header().Get(TraceIDHeader))

	// an inbound trace context is continued
	req := httptest.NewRequest("GET", "/items", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", w.Header().Get(TraceIDHeader))
}

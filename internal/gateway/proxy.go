package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/config"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// Upstream one proxied service
type Upstream struct {
	Name   string
	Target *url.URL
	proxy  *httputil.ReverseProxy
}

// NewUpstream creates a reverse proxy to rawURL. A failed round trip answers 502 {message}.
func NewUpstream(name, rawURL string, timeout time.Duration) (*Upstream, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s upstream url %q: %w", name, rawURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid %s upstream url %q: scheme and host are required", name, rawURL)
	}

	u := &Upstream{Name: name, Target: target}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = timeout

	u.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport:    transport,
		ErrorHandler: u.errorHandler,
	}
	return u, nil
}

func (u *Upstream) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// client went away
		return
	}

	log.WithFields(map[string]interface{}{
		"upstream": u.Name,
		"target":   u.Target.String(),
		"path":     r.URL.Path,
		"error":    err.Error(),
	}).Error("Upstream request failed")

	message := fmt.Sprintf("%s service unavailable", u.Name)
	c, ok := ginContext(r)
	if ok {
		utils.Error(c, utils.CodeUpstreamError, message)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = fmt.Fprintf(w, `{"message":%q}`, message)
}

type ginContextKey struct{}

func ginContext(r *http.Request) (*gin.Context, bool) {
	c, ok := r.Context().Value(ginContextKey{}).(*gin.Context)
	return c, ok
}

// Handler proxies the request unchanged
func (u *Upstream) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request.WithContext(context.WithValue(c.Request.Context(), ginContextKey{}, c))
		u.proxy.ServeHTTP(c.Writer, req)
	}
}

// Gateway routes resource prefixes to their services
type Gateway struct {
	Catalog *Upstream
	Order   *Upstream
	Design  *Upstream
}

// New builds the gateway from configuration
func New(cfg config.GatewayConfig) (*Gateway, error) {
	catalog, err := NewUpstream("catalog", cfg.CatalogURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	order, err := NewUpstream("order", cfg.OrderURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	design, err := NewUpstream("design", cfg.DesignURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Gateway{Catalog: catalog, Order: order, Design: design}, nil
}

// Register mounts the proxied routes
func (g *Gateway) Register(r gin.IRoutes) {
	mount := func(prefix string, u *Upstream) {
		r.Any(prefix, u.Handler())
		r.Any(prefix+"/*path", u.Handler())
	}

	mount("/api/v1/catalog", g.Catalog)
	mount("/api/v1/orders", g.Order)
	mount("/api/v1/designs", g.Design)
	r.POST("/auth/token", g.Order.Handler())
}

// Upstreams lists the proxied services
func (g *Gateway) Upstreams() []*Upstream {
	return []*Upstream{g.Catalog, g.Order, g.Design}
}

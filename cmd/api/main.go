// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"bookstore/internal/config"
	"bookstore/internal/httpx"
	"bookstore/internal/obs"
)

func main() {
	cfg := config.LoadGateway()
	obs.InitLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := httpx.NewRouter()
	routes := map[string]string{
		"/api/v1/auth":     cfg.AuthServiceURL,
		"/api/v1/catalog":  cfg.CatalogServiceURL,
		"/api/v1/purchase": cfg.PurchaseServiceURL,
	}
	for prefix, target := range routes {
		proxy, err := newProxy(target)
		if err != nil {
			obs.Logger.Error("invalid upstream", "prefix", prefix, "target", target, "error", err)
			os.Exit(1)
		}
		router.Handle(prefix+"/*", http.StripPrefix(prefix, proxy))
	}

	fmt.Printf("🚀 API Gateway listening on %s\n", cfg.HTTPAddr)
	if err := httpx.Serve(ctx, &http.Server{Addr: cfg.HTTPAddr, Handler: router}, cfg.ShutdownTimeout); err != nil {
		obs.Logger.Error("api gateway stopped", "error", err)
		os.Exit(1)
	}
}

func newProxy(target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q needs a scheme and host", target)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		obs.Logger.Warn("upstream unreachable", "target", target, "path", r.URL.Path, "error", err)
		httpx.WriteError(w, http.StatusBadGateway, httpx.KeyUpstreamUnavailable, "upstream unavailable")
	}
	return proxy, nil
}

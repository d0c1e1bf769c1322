// Package server assembles the gateway's HTTP transport.
package server

import (
	"strconv"

	"VerseGate/internal/biz"
	"VerseGate/internal/conf"
	"VerseGate/internal/model"
	"VerseGate/internal/server/middleware"
	"VerseGate/internal/service"
	pkglog "VerseGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.GatewayService, reg *prometheus.Registry, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	srv.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	registerGatewayRoutes(srv, svc)
	registerOpsRoutes(srv, svc)

	return srv
}

// registerGatewayRoutes mounts the governed provider operations.
func registerGatewayRoutes(srv *http.Server, svc *service.GatewayService) {
	r := srv.Route("/")

	r.POST("/v1/chat/completions", func(ctx http.Context) error {
		var req service.ChatRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		resp, err := svc.ChatCompletion(ctx, &req)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, resp)
	})

	r.POST("/v1/embeddings", func(ctx http.Context) error {
		var req service.EmbeddingsRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		resp, err := svc.CreateEmbeddings(ctx, &req)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, resp)
	})

	r.POST("/v1/search", func(ctx http.Context) error {
		var req service.SearchRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		resp, err := svc.SearchVectors(ctx, &req)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, resp)
	})

	r.POST("/v1/moderate", func(ctx http.Context) error {
		var req service.ModerateRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		verdict, err := svc.Moderate(ctx, &req)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, verdict)
	})
}

// registerOpsRoutes mounts the operational surface: health, dashboard,
// budget, circuit control and alerts.
func registerOpsRoutes(srv *http.Server, svc *service.GatewayService) {
	r := srv.Route("/ops")

	r.GET("/healthz", func(ctx http.Context) error {
		results := svc.HealthChecks(ctx)
		status := 200
		if model.AggregateHealth(results) == model.StatusUnhealthy {
			status = 503
		}
		return ctx.Result(status, map[string]interface{}{
			"status": model.AggregateHealth(results),
			"checks": results,
		})
	})

	r.GET("/dashboard", func(ctx http.Context) error {
		data, err := svc.Dashboard(ctx)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, data)
	})

	r.GET("/performance", func(ctx http.Context) error {
		window := ctx.Query().Get("window")
		if window == "" {
			window = "24h"
		}
		snap, err := svc.Performance(ctx, window)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, snap)
	})

	r.GET("/budget", func(ctx http.Context) error {
		usage, err := svc.BudgetUsage(ctx)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, usage)
	})

	r.GET("/alerts", func(ctx http.Context) error {
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		alerts, err := svc.RecentAlerts(ctx, limit)
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, alerts)
	})

	r.GET("/circuits/{key}", func(ctx http.Context) error {
		snap, err := svc.CircuitStatus(ctx, ctx.Vars().Get("key"))
		if err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, snap)
	})

	r.POST("/circuits/{key}/reset", func(ctx http.Context) error {
		if err := svc.ResetCircuit(ctx, ctx.Vars().Get("key")); err != nil {
			return biz.AsKratosError(err)
		}
		return ctx.Result(200, map[string]bool{"success": true})
	})
}

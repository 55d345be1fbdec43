package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jamesnjugunah/vendorshop/internal/adapter/http/middleware"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Orders   *OrderHandler
	Payments *PaymentHandler
	Authz    *middleware.Authz
	Guard    *middleware.CallbackGuard
	Logger   *slog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := d.Logger
	if l == nil {
		l = logging.New("http")
	}
	r.Use(middleware.Logging(l))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		pay := api.Group("/payments/mpesa")
		pay.POST("/stk-push", d.Authz.Require(), d.Payments.STKPush)
		pay.GET("/query/:checkoutRequestId", d.Authz.Require(), d.Payments.Query)
		// the provider authenticates with the token in the URL we registered
		pay.POST("/callback", d.Guard.Guard(), d.Payments.Callback)
		pay.POST("/callback/:token", d.Guard.Guard(), d.Payments.Callback)

		orders := api.Group("/orders", d.Authz.Require())
		orders.POST("", d.Orders.CreateOrder)
		orders.GET("", d.Orders.ListMine)
		orders.GET("/admin/all", d.Orders.ListAll)
		orders.GET("/:id", d.Orders.GetOrder)
		orders.GET("/:id/status", d.Orders.GetStatus)
		orders.PATCH("/:id/status", d.Orders.UpdateStatus)
	}

	return r
}

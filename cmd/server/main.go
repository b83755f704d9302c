package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/techturf/marketplace/internal/cache"
	"github.com/techturf/marketplace/internal/config"
	"github.com/techturf/marketplace/internal/httpx"
	"github.com/techturf/marketplace/internal/notify"
	ord "github.com/techturf/marketplace/internal/order"
	"github.com/techturf/marketplace/internal/product"
	"github.com/techturf/marketplace/internal/promo"
	"github.com/techturf/marketplace/internal/realtime"
	"github.com/techturf/marketplace/internal/store"
	"github.com/techturf/marketplace/internal/user"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[main] postgres connect: %v", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		log.Fatalf("[main] migrate: %v", err)
	}

	var dispatcher notify.Dispatcher
	if cfg.AMQPURL != "" {
		d, err := notify.NewAMQPDispatcher(cfg.AMQPURL, cfg.OrderExchange)
		if err != nil {
			log.Fatalf("[main] rabbitmq connect: %v", err)
		}
		dispatcher = d
	} else {
		log.Printf("[main] RABBITMQ_URL not set, order events go to the log")
		dispatcher = notify.NewLogDispatcher()
	}
	defer dispatcher.Close()

	hub := realtime.NewHub()
	defer hub.Close()

	promoCache := cache.NewTTL[string, *promo.Promo](time.Duration(cfg.PromoCacheTTLSeconds) * time.Second)
	defer promoCache.Close()

	productRepo := product.NewPGRepo(pool)
	// promo writes purge the cache, so code lookups stay coherent
	promoRepo := promo.NewCachedRepo(promo.NewPGRepo(pool), promoCache)
	userRepo := user.NewPGRepo(pool)
	orderRepo := ord.NewPGRepo(pool)

	userSvc := user.NewService(userRepo, cfg.JWTSecret)
	orderSvc := ord.NewService(orderRepo, productRepo, promoRepo, ord.Options{
		Pricing: ord.PricingConfig{
			TaxRate:      cfg.TaxRate,
			ShippingFlat: cfg.ShippingFlat,
		},
		COD: ord.CODConfig{
			Enabled:   cfg.CODEnabled,
			Fee:       cfg.CODFee,
			MaxAmount: cfg.CODMaxAmount,
			Regions:   cfg.CODRegions,
		},
		Dispatcher: dispatcher,
		Broadcast:  hub,
	})

	r := newRouter(cfg, userSvc, orderSvc, productRepo, promoRepo)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("[main] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
}

func newRouter(cfg config.Config, userSvc *user.Service, orderSvc *ord.Service, productRepo product.Repository, promoRepo promo.Repository) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(), httpx.Metrics())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.POST("/auth/register", registerHandler(userSvc))
	api.POST("/auth/login", loginHandler(userSvc))

	api.GET("/products", listProductsHandler(productRepo))
	api.GET("/products/:id", getProductHandler(productRepo))

	auth := api.Group("", httpx.Auth(cfg.JWTSecret))
	{
		auth.GET("/me", meHandler(userSvc))
		auth.PUT("/me", updateMeHandler(userSvc))

		auth.POST("/orders", placeOrderHandler(orderSvc))
		auth.GET("/orders/mine", listMyOrdersHandler(orderSvc))
		auth.GET("/orders/:id", getOrderHandler(orderSvc))
		auth.POST("/orders/:id/return", requestReturnHandler(orderSvc))
	}

	admin := api.Group("", httpx.Auth(cfg.JWTSecret), httpx.AdminOnly())
	{
		admin.GET("/orders", listOrdersHandler(orderSvc))
		admin.PUT("/orders/:id/status", updateOrderStatusHandler(orderSvc))
		admin.POST("/orders/:id/cancel", cancelOrderHandler(orderSvc))
		admin.POST("/orders/:id/pay", payOrderHandler(orderSvc))

		admin.POST("/products", createProductHandler(productRepo))
		admin.PUT("/products/:id", updateProductHandler(productRepo))
		admin.DELETE("/products/:id", deleteProductHandler(productRepo))

		admin.GET("/promos", listPromosHandler(promoRepo))
		admin.POST("/promos", createPromoHandler(promoRepo))
		admin.PUT("/promos/:id", updatePromoHandler(promoRepo))
		admin.DELETE("/promos/:id", deletePromoHandler(promoRepo))
	}

	return r
}

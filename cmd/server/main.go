package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"rastermap/internal/cache"
	"rastermap/internal/config"
	"rastermap/internal/server"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize Redis (blob store for registered maps)
	redisClient, err := cache.NewRedisClient(cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Evaluation memo shared across tile requests
	memo, err := cache.NewEvalMemo(cfg.MemoSize)
	if err != nil {
		log.Fatalf("Failed to create evaluation cache: %v", err)
	}

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Routes
	store := server.NewMapStore(redisClient)
	handler := server.NewHandler(store, memo, cfg)
	handler.Register(e)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.BackendPort)
	fmt.Printf("Raster server starting on %s\n", addr)
	e.Logger.Fatal(e.Start(addr))
}

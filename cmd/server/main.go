package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DenisArango/DENGO-POS-sub000/internal/cache"
	"github.com/DenisArango/DENGO-POS-sub000/internal/config"
	"github.com/DenisArango/DENGO-POS-sub000/internal/httpapi"
	"github.com/DenisArango/DENGO-POS-sub000/internal/service"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store/memory"
	pgstore "github.com/DenisArango/DENGO-POS-sub000/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DatabaseAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("postgres migration failed: %v", err)
			}
			log.Println("repository: schema applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	carts := cache.CartStore(cache.NoopCartStore{})
	if cfg.RedisAddr != "" {
		redisCarts := cache.NewRedisCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCarts.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), carts are kept in memory only", err)
			_ = redisCarts.Close()
		} else {
			carts = redisCarts
			closers = append(closers, redisCarts.Close)
			log.Println("cart cache: redis")
		}
	} else {
		log.Println("cart cache: noop")
	}

	svc := service.New(repo, carts, cfg.StoreID, cfg.CartTTL())
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name the POS front end, not *")
	}
	return nil
}

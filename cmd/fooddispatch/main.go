package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agamariel/fooddispatch/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Инициализация приложения
	app, err := NewApp(rootCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Запуск сервера в отдельной горутине
	go func() {
		if err := app.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}

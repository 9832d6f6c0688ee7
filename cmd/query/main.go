package main

import (
	"log"

	"github.com/shestoi/order-platform/internal/app"
	"github.com/shestoi/order-platform/internal/config"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadQuery()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log()

	// Собираем граф зависимостей read-стороны
	application, err := app.BuildQuery(cfg)
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	// Run блокируется до graceful shutdown
	if err := application.Run(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}

package main

import (
	"log"

	"github.com/shestoi/order-platform/internal/app"
	"github.com/shestoi/order-platform/internal/config"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadCommand()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log()

	// Собираем граф зависимостей write-стороны
	application, err := app.BuildCommand(cfg)
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	// Run блокируется до graceful shutdown
	if err := application.Run(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}

package main

import (
	"flag"
	"log"
	"os"

	"TAMObserver/internal/di"
	"TAMObserver/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s backend=%s timeframe=%s", cfg.Environment, cfg.Backend.Type, cfg.Observer.Timeframe)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: db=%s records=%s", cfg.ClickHouse.Database, cfg.ClickHouse.RecordsTable)
	log.Printf("kafka: brokers=%v bars=%s records=%s", cfg.Kafka.Brokers, cfg.Kafka.BarsTopic, cfg.Kafka.RecordsTopic)

	// blocks until signal
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

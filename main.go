package main

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"

	"food-delivery/dispatch/config"
	"food-delivery/dispatch/delivery"
	"food-delivery/dispatch/events"
	"food-delivery/dispatch/handlers"
	"food-delivery/dispatch/mail"
	"food-delivery/dispatch/notify"
	"food-delivery/dispatch/queue"
	"food-delivery/dispatch/store"

	_ "food-delivery/dispatch/docs"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	st := store.NewRedis(rdb)

	eventLog, err := events.NewLogger(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		log.Fatal("Failed to create Kafka producer:", err)
	}
	defer eventLog.Close()

	rabbit, err := queue.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	defer rabbit.Close()
	retryQueue := queue.NewRedispatch(rabbit, cfg.RabbitMQ.RetryQueue, cfg.Dispatch.RetryDelay)

	registry := notify.NewRegistry()
	gateway := notify.NewGateway(registry)
	mailer := mail.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)

	svc := delivery.NewService(st, gateway, eventLog, mailer, retryQueue, delivery.Config{
		BroadcastRadiusMeters: cfg.Dispatch.BroadcastRadiusMeters,
		DeliveryFee:           cfg.Dispatch.DeliveryFee,
		OTPTTL:                cfg.Dispatch.OTPTTL,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	server := handlers.NewServer(cfg, svc, registry, gateway, st)
	server.SetupRoutes(app)

	app.Get("/swagger/*", swagger.HandlerDefault)

	// Starved broadcasts come back through the retry queue.
	go func() {
		err := retryQueue.Consume(func(msg queue.RetryMessage) {
			if err := svc.Rebroadcast(context.Background(), msg.OrderID, msg.ShopOrderID); err != nil {
				log.Printf("rebroadcast order %s: %v", msg.OrderID, err)
			}
		})
		if err != nil {
			log.Printf("retry consumer stopped: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Server.Port)
	log.Fatal(app.Listen(":" + cfg.Server.Port))
}

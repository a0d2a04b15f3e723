package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/klaxonbot/klaxon/src/dispatcher"
	"github.com/klaxonbot/klaxon/src/gateway"
	"github.com/klaxonbot/klaxon/src/logger"
	"github.com/klaxonbot/klaxon/src/structs"
	"github.com/klaxonbot/klaxon/src/utils"
	"github.com/klaxonbot/klaxon/src/webhook"
)

var signals = []os.Signal{
	os.Interrupt,
	syscall.SIGINT,
	syscall.SIGTERM,
}

func main() {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	log := slog.New(logger.NewHandler(os.Stdout, logger.HandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: level},
	}))

	cfg, err := utils.LoadConfiguration()
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	d := dispatcher.New(log)
	defer d.Close()
	d.Subscribe(structs.EventNameMessageCreate, func(event structs.EventName, data json.RawMessage) {
		message := structs.Message{}
		if err := json.Unmarshal(data, &message); err != nil {
			log.Error("failed to decode message", "error", err.Error())
			return
		}
		log.Info("message received", "channel_id", message.ChannelID, "author", message.Author.Username)
	})

	g := gateway.NewGateway(gateway.Config{
		BotToken: cfg.BotToken,
		BotIntent: []gateway.GatewayIntent{
			gateway.GuildsIntent,
			gateway.GuildMessagesIntent,
			gateway.MessageContentIntent,
		},
		Dispatcher: d,
		Logger:     log,
		OnConnectionLost: func(reason error) {
			log.Warn("connection lost, retrying", "reason", reason.Error())
		},
		OnFatal: func(err error) {
			log.Error("gateway is fatally down", "error", err.Error())
			stop()
		},
	})

	d.Subscribe(structs.EventNameReady, func(event structs.EventName, data json.RawMessage) {
		presence := structs.PresenceUpdate{
			Status:     "online",
			Activities: []structs.Activity{{Name: "the gateway", Type: 3}},
		}
		if err := g.UpdatePresence(ctx, presence); err != nil {
			log.Warn("failed to update presence", "error", err.Error())
		}
	})

	if err := g.Open(ctx); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	defer g.Close()

	server := webhook.NewServer(g, log)
	go server.StartServer(ctx, cfg.APIAddress)

	<-ctx.Done()
}

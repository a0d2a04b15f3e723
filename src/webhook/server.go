package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/klaxonbot/klaxon/src/gateway"
)

// Server exposes the gateway's health over HTTP: whether the stream is
// connected, which session it holds, and how fresh the heartbeats are.
type Server struct {
	router *fiber.App
	gw     *gateway.Gateway
	log    *slog.Logger
}

func NewServer(gw *gateway.Gateway, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		gw:  gw,
		log: log,
	}
}

type statusResponse struct {
	Status            gateway.GatewayStatus `json:"status"`
	SessionID         string                `json:"session_id,omitempty"`
	Sequence          *uint64               `json:"sequence,omitempty"`
	LastHeartbeatSent string                `json:"last_heartbeat_sent,omitempty"`
	LastHeartbeatAck  string                `json:"last_heartbeat_ack,omitempty"`
	HeartbeatAcked    bool                  `json:"heartbeat_acked"`
}

func (server *Server) setupRouter() {
	router := fiber.New()
	router.Get("/healthz", func(c fiber.Ctx) error {
		return c.SendString("ok")
	})
	router.Get("/status", func(c fiber.Ctx) error {
		res := statusResponse{
			Status:    server.gw.Status(),
			SessionID: server.gw.Session().ID(),
		}
		if seq, ok := server.gw.Session().Sequence(); ok {
			res.Sequence = &seq
		}
		lastSent, lastAck, acked := server.gw.HeartbeatLiveness()
		if !lastSent.IsZero() {
			res.LastHeartbeatSent = lastSent.Format(time.RFC3339)
		}
		if !lastAck.IsZero() {
			res.LastHeartbeatAck = lastAck.Format(time.RFC3339)
		}
		res.HeartbeatAcked = acked
		return c.JSON(res)
	})
	server.router = router
}

func (server *Server) StartServer(ctx context.Context, addr string) {
	server.log.Info("status server starting", "address", addr)
	server.setupRouter()
	err := server.router.Listen(addr, fiber.ListenConfig{
		GracefulContext: ctx,
		OnShutdownSuccess: func() {
			server.log.Info("status server stopped")
		},
	})
	if err != nil {
		server.log.Error("status server failed", "error", err.Error())
	}
}

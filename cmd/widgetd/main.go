package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/widgetd/internal/config"
	"github.com/kandev/widgetd/internal/logging"
	"github.com/kandev/widgetd/pkg/widget/machine"
	"github.com/kandev/widgetd/pkg/widget/memorydriver"
	"github.com/kandev/widgetd/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var log *logging.Logger
	if cfg.Logging.Format == "json" {
		log, err = logging.NewProduction()
	} else {
		log, err = logging.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting widgetd")

	registry := machine.NewRegistry()
	room := memorydriver.NewRoom()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": registry.Len()})
	})

	router.GET("/widget/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		sessionID := uuid.NewString()
		var comm *transport.WebSocketComm
		var m *machine.Machine

		comm = transport.NewWebSocketComm(conn, log, func(raw []byte) error {
			return m.HandleFrame(raw)
		})

		m = machine.New(machine.Config{
			RoomID:      "!local-room",
			InitOnLoad:  cfg.Session.InitOnLoad,
			Driver:      memorydriver.Driver{Room: room},
			Permissions: memorydriver.PermissionsProvider{Policy: memorydriver.AllowAllPolicy{}},
			OpenID:      memorydriver.OpenIDProvider{},
			Sender:      comm,
			Logger:      log,
			MutexTimeout: cfg.Session.MutexTimeout(),
		})

		registry.Add(sessionID, m)
		log.Info("widget session connected", zap.String("session_id", sessionID))

		// Not c.Request.Context(): this handler is about to block in m.Run
		// for the life of the connection, so that context can never be
		// observed to cancel anything here. Disconnect is detected by
		// ReadPump exiting in its own goroutine, which calls registry.Remove
		// -> m.Close, and Close unblocks Run through its own internal
		// context regardless of what's passed in below.
		go comm.WritePump()
		go func() {
			comm.ReadPump()
			registry.Remove(sessionID)
			log.Info("widget session disconnected", zap.String("session_id", sessionID))
		}()

		m.Run(context.Background())
		comm.Close()
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down widgetd")
	_ = server.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/api"
	"github.com/celerix-dev/celerix-presence/internal/camera"
	"github.com/celerix-dev/celerix-presence/internal/config"
	"github.com/celerix-dev/celerix-presence/internal/evaluate"
	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/celerix-dev/celerix-presence/internal/metrics"
	"github.com/celerix-dev/celerix-presence/internal/notify"
	"github.com/celerix-dev/celerix-presence/internal/oracle"
	"github.com/celerix-dev/celerix-presence/internal/roster"
	"github.com/celerix-dev/celerix-presence/internal/server"
	"github.com/celerix-dev/celerix-presence/internal/service"
	"github.com/celerix-dev/celerix-presence/internal/store"
	"github.com/celerix-dev/celerix-presence/internal/vault"
	"github.com/gin-gonic/gin"
)

func main() {
	fmt.Println("Starting Celerix Presence Daemon...")

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	loc, _ := cfg.Location() // validated by config.Load

	// 2. Initialize Persistence
	key, err := vault.ParseKey(cfg.Store.VaultKey)
	if err != nil {
		log.Fatalf("Invalid vault key: %v", err)
	}
	st, err := store.Open(store.Options{
		Driver:   cfg.Store.Driver,
		DataDir:  cfg.Store.DataDir,
		DSN:      cfg.Store.DSN,
		VaultKey: key,
	})
	if err != nil {
		log.Fatalf("Failed to initialize persistence: %v", err)
	}
	defer st.Close()

	// 3. Load existing data. A failed load is fatal: the next save would
	// otherwise overwrite the stored ledger with an empty one.
	people, err := st.LoadRoster()
	if err != nil {
		log.Fatalf("Could not load roster: %v", err)
	}
	events, err := st.LoadLedger()
	if err != nil {
		log.Fatalf("Could not load ledger: %v", err)
	}
	fmt.Printf("Store ready (%s). Loaded %d people and %d events.\n", cfg.Store.Driver, len(people), len(events))

	// 4. Domain components
	m := metrics.New()
	rs := roster.New(people, st, logger.With("component", "roster"))

	ledgerOpts := []ledger.Option{
		ledger.WithPersister(st),
		ledger.WithLocation(loc),
		ledger.WithLogger(logger.With("component", "ledger")),
	}
	if cfg.Scan.StrictRoster {
		ledgerOpts = append(ledgerOpts, ledger.WithDirectory(rs))
	}
	var publisher *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer publisher.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(publisher))
		fmt.Printf("Publishing events to Kafka topic %s.\n", cfg.Kafka.Topic)
	}
	lg := ledger.New(events, ledgerOpts...)

	oc, err := oracle.NewClient(oracle.Config{
		URL:     cfg.Oracle.URL,
		APIKey:  cfg.Oracle.APIKey,
		Timeout: cfg.Oracle.Timeout,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize recognition client: %v", err)
	}

	svc := service.New(service.Config{
		Roster:        rs,
		Ledger:        lg,
		Camera:        camera.NewFileCamera(cfg.Camera.FramePath),
		Oracle:        oc,
		Metrics:       m,
		Logger:        logger,
		DisplayWindow: cfg.Scan.DisplayWindow,
		Evaluation:    evaluate.Config{CycleLength: cfg.Scan.CycleLength, Location: loc},
	})
	if err := svc.Start(); err != nil {
		// The daemon keeps serving; the kiosk can reacquire later.
		logger.Warn("capture_device_unavailable", "path", cfg.Camera.FramePath, "error", err.Error())
	}

	// 5. Initialize the TCP Router
	router := server.NewRouter(svc)
	if !cfg.Server.DisableTLS {
		fmt.Println("Generating self-signed certificate for internal TLS...")
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			log.Fatalf("Failed to generate TLS certificate: %v", err)
		}
		router.SetCertificate(cert)
		fmt.Println("TLS encryption enabled.")
	} else {
		fmt.Println("TLS encryption disabled (CELERIX_DISABLE_TLS=true).")
	}

	// 6. Initialize HTTP API
	h := &api.Handler{Presence: svc}
	r := gin.Default()
	r.Use(m.Middleware())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h.Register(r.Group("/api"))
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	httpServer := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: r}

	// 7. Start servers
	go func() {
		fmt.Printf("HTTP API listening on :%s\n", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	tcpDone := make(chan error, 1)
	go func() {
		fmt.Printf("Celerix Presence listening on :%s (TCP)\n", cfg.Server.Port)
		tcpDone <- router.Listen(cfg.Server.Port)
	}()

	// 8. Handle Graceful Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutdown signal received. Finalizing writes...")
	case err := <-tcpDone:
		if err != nil {
			logger.Error("tcp_server_failed", "error", err.Error())
		}
	}

	router.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown", "error", err.Error())
	}
	if err := svc.Close(); err != nil {
		logger.Warn("device_release_failed", "error", err.Error())
	}
	fmt.Println("Persistence complete. Exiting.")
}

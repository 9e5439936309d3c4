package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/tagrpc/internal/config"
	"github.com/danmuck/tagrpc/internal/hexaddr"
	"github.com/danmuck/tagrpc/internal/observability"
	"github.com/danmuck/tagrpc/internal/transport/udp"
	"github.com/danmuck/tagrpc/internal/wireup"
)

var startedAt = time.Now()

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-config file.toml] [remote address]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	cfgPath := flag.String("config", "", "path to TOML config file")
	flag.Usage = usage
	flag.Parse()

	logger := observability.InitLogger("tagrpc")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error().Err(err).Msg("config load failed")
		os.Exit(1)
	}

	switch flag.NArg() {
	case 0:
		runServer(cfg, logger)
	case 1:
		runClient(cfg, logger, flag.Arg(0))
	default:
		usage()
	}
}

func runServer(cfg config.Config, logger zerolog.Logger) {
	tr, err := udp.New(cfg.ListenAddr, logger)
	if err != nil {
		logger.Error().Err(err).Msg("transport init failed")
		os.Exit(1)
	}
	defer tr.Close()

	// The printed form is what a client passes as its one argument.
	fmt.Println(hexaddr.Format(tr.Address()))
	logger.Info().
		Int("addr_bytes", len(tr.Address())).
		Str("listen", string(tr.Address())).
		Msg("serving wireup")

	if cfg.AdminAddr != "" {
		go serveAdmin(cfg, logger)
	}

	responder, err := wireup.NewResponder(tr, cfg.InitialRecvSize, cfg.Window, logger)
	if err != nil {
		logger.Error().Err(err).Msg("responder init failed")
		os.Exit(1)
	}
	defer responder.Close()

	if err := responder.Serve(); err != nil {
		logger.Error().Err(err).Msg("serve loop ended")
		os.Exit(1)
	}
}

func runClient(cfg config.Config, logger zerolog.Logger, remote string) {
	remoteAddr, err := hexaddr.Parse(remote)
	if err != nil {
		logger.Error().Err(err).Str("remote", remote).Msg("could not parse remote address")
		os.Exit(2)
	}
	logger.Info().Int("addr_bytes", len(remoteAddr)).Msg("parsed remote address")

	tr, err := udp.New(cfg.ListenAddr, logger)
	if err != nil {
		logger.Error().Err(err).Msg("transport init failed")
		os.Exit(1)
	}
	defer tr.Close()

	fmt.Println(hexaddr.Format(tr.Address()))

	if err := wireup.Request(tr, remoteAddr, logger); err != nil {
		logger.Error().Err(err).Msg("wireup failed")
		os.Exit(1)
	}
	logger.Info().Msg("wireup complete")
}

func serveAdmin(cfg config.Config, logger zerolog.Logger) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if len(cfg.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": "tagrpc",
		})
	})
	observability.RegisterMetrics()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := r.Run(cfg.AdminAddr); err != nil {
		logger.Error().Err(err).Msg("admin endpoint stopped")
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/moonshine-go/moonshine/internal/audio"
	"github.com/moonshine-go/moonshine/internal/config"
	"github.com/moonshine-go/moonshine/internal/control"
	"github.com/moonshine-go/moonshine/internal/discovery"
	"github.com/moonshine-go/moonshine/internal/httpapi"
	"github.com/moonshine-go/moonshine/internal/pairing"
	"github.com/moonshine-go/moonshine/internal/session"
	"github.com/moonshine-go/moonshine/internal/status"
	"github.com/moonshine-go/moonshine/internal/video"
)

func main() {
	certPath := flag.String("cert", "./cert/cert.pem", "Path to the host's certificate")
	keyPath := flag.String("key", "./cert/key.pem", "Path to the host's private key")
	listenAddr := flag.String("listen", "0.0.0.0", "Interface to bind the pairing and stream ports to")
	statusAddr := flag.String("status", ":8443", "Non-empty enables the ops status WebSocket at /status/ws on the pairing HTTP server; empty disables it")
	advertise := flag.Bool("mdns", true, "Advertise the pairing endpoint over mDNS")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.ListenAddr = *listenAddr
	cfg.CertPath = *certPath
	cfg.KeyPath = *keyPath
	cfg.StatusAddr = *statusAddr
	cfg.AdvertiseMDNS = *advertise

	logger := log.New(os.Stdout, "moonshine: ", log.LstdFlags)

	identity, err := pairing.LoadServerIdentity(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		logger.Fatalf("loading server identity: %v", err)
	}
	store := pairing.NewStore(identity)

	var hub *status.Hub
	if cfg.StatusAddr != "" {
		hub = status.NewHub(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("shutting down")
		cancel()
	}()

	httpAddr := fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.HTTPPort)
	api := httpapi.New(logger, httpAddr, store, hub)
	go func() {
		if err := api.ListenAndServe(); err != nil {
			logger.Printf("httpapi: server exited: %v", err)
		}
	}()

	if cfg.AdvertiseMDNS {
		advertiser := discovery.New(logger, cfg.HTTPSPort)
		go func() {
			if err := advertiser.Run(ctx); err != nil {
				logger.Printf("discovery: exited: %v", err)
			}
		}()
	}

	sess := startSession(ctx, logger, cfg)

	<-ctx.Done()
	sess.Close()
	_ = api.Shutdown(context.Background())
}

// startSession wires the video/audio/control factories and launches a
// single session immediately. The launch handshake that precedes
// StartStream in the real protocol (an RTSP-style ANNOUNCE) is out of
// scope (spec §1); a deployment with a small fixed session count can
// instead start its one session eagerly with configured defaults.
func startSession(ctx context.Context, logger *log.Logger, cfg config.Config) *session.Session {
	newVideo := func(vctx video.Context) (video.Stream, error) {
		return &placeholderVideoStream{logger: logger}, nil
	}
	newAudio := func(acfg audio.Config) (*audio.Stream, error) {
		source := audio.NewSineSource(48000, 2)
		encoder, err := audio.NewOpusEncoder(48000, 2, 20)
		if err != nil {
			return nil, fmt.Errorf("building opus encoder: %w", err)
		}
		return audio.New(logger, acfg, source, encoder)
	}
	newControl := func(ccfg control.Config, key [16]byte) (session.ControlStream, error) {
		return control.New(logger, ccfg, key)
	}

	sess := session.New(logger, newVideo, newAudio, newControl)
	go sess.Run()

	videoCtx := video.Context{Width: 1920, Height: 1080, RefreshRate: 60}
	audioCfg := audio.DefaultConfig(fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.AudioPort))
	controlCfg := control.Config{
		Port:          uint16(cfg.ControlPort),
		MaxPeers:      1,
		StreamTimeout: cfg.StreamTimeout,
	}

	if err := sess.StartStream(videoCtx, audioCfg, controlCfg); err != nil {
		logger.Printf("session: initial StartStream failed: %v", err)
	}

	return sess
}

// placeholderVideoStream satisfies video.Stream with no real capture
// or encoding; wiring an actual pipeline is an external collaborator's
// job (spec §1).
type placeholderVideoStream struct {
	logger *log.Logger
}

func (p *placeholderVideoStream) Start(ctx context.Context) error {
	p.logger.Println("video: no capture pipeline configured, idling until session ends")
	<-ctx.Done()
	return nil
}

func (p *placeholderVideoStream) RequestIDRFrame() {
	p.logger.Println("video: IDR frame requested, no pipeline bound")
}

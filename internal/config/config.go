// Package config holds the host's top-level configuration: listen
// ports, certificate paths, and stream timing. Adapted from
// internal/server/config.go's Config+DefaultConfig shape, repurposed
// from WebRTC signaling settings to the five fixed GameStream ports
// and pairing certificate paths (spec §6).
package config

import (
	"time"

	"github.com/moonshine-go/moonshine/internal/protocol"
)

// Config is the full set of knobs a deployment can set; DefaultConfig
// returns the values spec §6 fixes as defaults.
type Config struct {
	// ListenAddr is the host/interface the HTTP pairing API binds to;
	// ports below are appended to it.
	ListenAddr string `json:"listen_addr"`

	HTTPPort    int `json:"http_port"`
	HTTPSPort   int `json:"https_port"`
	VideoPort   int `json:"video_port"`
	ControlPort int `json:"control_port"`
	AudioPort   int `json:"audio_port"`

	// CertPath/KeyPath locate the host's own identity, used to answer
	// getservercert and sign pairing challenges (spec §6).
	CertPath string `json:"cert_path"`
	KeyPath  string `json:"key_path"`

	// StreamTimeout is the control stream's keepalive deadline (spec §4.2).
	StreamTimeout time.Duration `json:"stream_timeout"`

	// MaxSessions is the configured concurrent session count. The
	// host starts exactly one session and does not read this field.
	MaxSessions int `json:"max_sessions"`

	// AdvertiseMDNS toggles the discovery.Advertiser.
	AdvertiseMDNS bool `json:"advertise_mdns"`

	// StatusAddr, if non-empty, enables the ops WebSocket broadcaster,
	// which is served at /status/ws on the pairing API's HTTP server.
	// No listener is opened on StatusAddr itself.
	StatusAddr string `json:"status_addr"`
}

// DefaultConfig returns the standard GameStream host configuration
// (spec §6): fixed ports, certs under ./cert, a 10 second keepalive
// deadline, and a single concurrent session.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "0.0.0.0",
		HTTPPort:      protocol.PortHTTP,
		HTTPSPort:     protocol.PortHTTPS,
		VideoPort:     protocol.PortVideo,
		ControlPort:   protocol.PortControl,
		AudioPort:     protocol.PortAudio,
		CertPath:      "./cert/cert.pem",
		KeyPath:       "./cert/key.pem",
		StreamTimeout: 10 * time.Second,
		MaxSessions:   1,
		AdvertiseMDNS: true,
		StatusAddr:    ":8443",
	}
}

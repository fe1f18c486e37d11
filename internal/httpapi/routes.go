// Package httpapi exposes the pairing state machine over the plain
// HTTP GET/query-string protocol Moonlight clients speak (spec §6):
// a single /pair endpoint multiplexed by the "phrase" or present
// parameter, a /pin endpoint, and /unpair. Responses are the fixed
// XML envelope the clients expect.
//
// Grounded on internal/server/server.go's ServeMux + timed http.Server
// construction, adapted from JSON REST routes to the pairing wire
// format's query-string GET dispatch.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/moonshine-go/moonshine/internal/pairing"
	"github.com/moonshine-go/moonshine/internal/status"
)

var (
	errMissingUniqueID = errors.New("httpapi: missing uniqueid")
	errUnknownPhase    = errors.New("httpapi: unrecognized pairing phase")
	errBadSalt         = errors.New("httpapi: salt must be 16 bytes hex-encoded")
)

// Server wires the pairing store and status hub onto an http.Server.
type Server struct {
	logger *log.Logger
	store  *pairing.Store
	hub    *status.Hub

	httpServer *http.Server
}

// New builds a Server listening on addr. hub may be nil if ops
// broadcasting is disabled.
func New(logger *log.Logger, addr string, store *pairing.Store, hub *status.Hub) *Server {
	s := &Server{logger: logger, store: store, hub: hub}

	mux := http.NewServeMux()
	mux.HandleFunc("/pair", s.handlePair)
	mux.HandleFunc("/pin", s.handlePin)
	mux.HandleFunc("/unpair", s.handleUnpair)
	if hub != nil {
		mux.HandleFunc("/status/ws", hub.HandleWebSocket)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe runs the HTTP pairing API until it fails or is shut
// down.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("httpapi: listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type xmlRoot struct {
	XMLName    xml.Name `xml:"root"`
	StatusCode int      `xml:"status_code,attr"`
	Paired     *int     `xml:"paired,omitempty"`
	PlainCert  string   `xml:"plaincert,omitempty"`
	Challenge  string   `xml:"challengeresponse,omitempty"`
	Secret     string   `xml:"pairingsecret,omitempty"`
}

func writeXML(w http.ResponseWriter, root xmlRoot) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(root)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func paired() xmlRoot {
	one := 1
	return xmlRoot{StatusCode: 200, Paired: &one}
}

// handlePair multiplexes getservercert, clientchallenge,
// serverchallengeresp, clientpairingsecret and pairchallenge onto one
// route, the way the wire protocol itself does (spec §6).
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uniqueID := q.Get("uniqueid")
	if uniqueID == "" {
		writeBadRequest(w, errMissingUniqueID)
		return
	}

	switch {
	case q.Get("phrase") == "getservercert":
		s.handleGetServerCert(w, r, uniqueID)
	case q.Get("phrase") == "pairchallenge":
		s.handlePairChallenge(w, uniqueID)
	case q.Has("clientchallenge"):
		s.handleClientChallenge(w, uniqueID, q.Get("clientchallenge"))
	case q.Has("serverchallengeresp"):
		s.handleServerChallengeResp(w, uniqueID, q.Get("serverchallengeresp"))
	case q.Has("clientpairingsecret"):
		s.handleClientPairingSecret(w, uniqueID, q.Get("clientpairingsecret"))
	default:
		writeBadRequest(w, errUnknownPhase)
	}
}

func (s *Server) handleGetServerCert(w http.ResponseWriter, r *http.Request, uniqueID string) {
	certHex := r.URL.Query().Get("clientcert")
	saltHex := r.URL.Query().Get("salt")

	certPEM, err := hex.DecodeString(certHex)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	saltBytes, err := hex.DecodeString(saltHex)
	if err != nil || len(saltBytes) != 16 {
		writeBadRequest(w, errBadSalt)
		return
	}
	var salt [16]byte
	copy(salt[:], saltBytes)

	pemOut, err := s.store.GetServerCert(uniqueID, certPEM, salt, r.Context().Done())
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	writeXML(w, xmlRoot{StatusCode: 200, PlainCert: hex.EncodeToString(pemOut)})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	uniqueID := r.URL.Query().Get("uniqueid")
	pin := r.URL.Query().Get("pin")
	if uniqueID == "" || pin == "" {
		writeBadRequest(w, errMissingUniqueID)
		return
	}
	if err := s.store.SubmitPin(uniqueID, pin); err != nil {
		writeBadRequest(w, err)
		return
	}
	writeXML(w, paired())
}

func (s *Server) handleClientChallenge(w http.ResponseWriter, uniqueID, challengeHex string) {
	cipher, err := hex.DecodeString(challengeHex)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	resp, err := s.store.ClientChallenge(uniqueID, cipher)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	writeXML(w, xmlRoot{StatusCode: 200, Challenge: hex.EncodeToString(resp)})
}

func (s *Server) handleServerChallengeResp(w http.ResponseWriter, uniqueID, respHex string) {
	cipher, err := hex.DecodeString(respHex)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	secret, err := s.store.ServerChallengeResponse(uniqueID, cipher)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	writeXML(w, xmlRoot{StatusCode: 200, Secret: hex.EncodeToString(secret)})
}

func (s *Server) handleClientPairingSecret(w http.ResponseWriter, uniqueID, secretHex string) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.store.ClientPairingSecret(uniqueID, secret); err != nil {
		writeBadRequest(w, err)
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(status.NewEvent(status.EventPairingCompleted, map[string]string{"uniqueid": uniqueID}))
	}
	writeXML(w, paired())
}

func (s *Server) handlePairChallenge(w http.ResponseWriter, uniqueID string) {
	if err := s.store.PairChallenge(uniqueID); err != nil {
		writeBadRequest(w, err)
		return
	}
	writeXML(w, paired())
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	uniqueID := r.URL.Query().Get("uniqueid")
	if uniqueID == "" {
		writeBadRequest(w, errMissingUniqueID)
		return
	}
	if err := s.store.Unpair(uniqueID); err != nil {
		writeBadRequest(w, err)
		return
	}
	writeXML(w, paired())
}

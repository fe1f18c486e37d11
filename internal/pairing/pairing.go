// Package pairing implements the five-phase Moonlight pairing state
// machine: salt+PIN key derivation, AES-128-ECB challenge/response,
// and RSA-SHA256 certificate signature binding (spec §4.3).
package pairing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/moonshine-go/moonshine/internal/cryptoutil"
)

// State is a client record's position in the five-phase exchange.
type State int

const (
	AwaitingPin State = iota
	PinSet
	ChallengeIssued
	SecretExchanged
	Verified
)

func (s State) String() string {
	switch s {
	case AwaitingPin:
		return "AwaitingPin"
	case PinSet:
		return "PinSet"
	case ChallengeIssued:
		return "ChallengeIssued"
	case SecretExchanged:
		return "SecretExchanged"
	case Verified:
		return "Verified"
	default:
		return "Unknown"
	}
}

// Errors returned by the state machine. HTTP handlers map all of them
// to 400 Bad Request, per spec §4.3/§7.
var (
	ErrUnknownClient   = errors.New("pairing: unknown uniqueid")
	ErrWrongPhase      = errors.New("pairing: message received out of order")
	ErrBadLength       = errors.New("pairing: wrong payload length")
	ErrHashMismatch    = errors.New("pairing: client hash mismatch, suspected MITM")
	ErrInvalidCertCert = errors.New("pairing: invalid client certificate")
)

// CertValidator is an extension point for full X.509 chain
// validation of the client certificate. The reference implementation
// only binds the cert's signature into the challenge hashes and
// leaves full chain validation as a known gap (spec §9); the default
// validator preserves that behavior.
type CertValidator func(clientCert *x509.Certificate) error

func noopValidator(*x509.Certificate) error { return nil }

// ServerIdentity is the host's own certificate and private key, used
// to sign challenges and answer getservercert. LoadServerIdentity
// builds one from PEM files on disk; callers may also build it from
// material already in memory.
type ServerIdentity struct {
	CertPEM    []byte // full PEM block, returned hex-encoded to clients
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
}

// LoadServerIdentity reads the host's certificate and RSA private key
// from disk (spec §6's ./cert/cert.pem and ./cert/key.pem). Both files
// must be PEM-encoded; the key may be PKCS1 or PKCS8.
func LoadServerIdentity(certPath, keyPath string) (ServerIdentity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return ServerIdentity{}, fmt.Errorf("pairing: reading cert: %w", err)
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return ServerIdentity{}, errors.New("pairing: cert file is not PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return ServerIdentity{}, fmt.Errorf("pairing: parsing cert: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return ServerIdentity{}, fmt.Errorf("pairing: reading key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return ServerIdentity{}, errors.New("pairing: key file is not PEM")
	}
	privateKey, err := parseRSAPrivateKey(keyBlock.Bytes)
	if err != nil {
		return ServerIdentity{}, fmt.Errorf("pairing: parsing key: %w", err)
	}

	return ServerIdentity{CertPEM: certPEM, Cert: cert, PrivateKey: privateKey}, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("pairing: key is not RSA")
	}
	return rsaKey, nil
}

// client is one in-flight or completed pairing record (spec §3).
type client struct {
	id     string
	cert   *x509.Certificate
	salt   [16]byte
	state  State

	key             *[16]byte
	serverSecret    *[16]byte
	serverChallenge *[16]byte
	clientHash      []byte

	pinOnce sync.Once
	pinCh   chan struct{}
}

func newClient(id string, cert *x509.Certificate, salt [16]byte) *client {
	return &client{id: id, cert: cert, salt: salt, state: AwaitingPin, pinCh: make(chan struct{})}
}

func (c *client) notifyPin() {
	c.pinOnce.Do(func() { close(c.pinCh) })
}

// Store holds all in-flight and completed pairing records, guarded by
// a single mutex held for the duration of each phase handler — except
// across the getservercert phase's PIN wait, which would otherwise
// deadlock the concurrent /pin request (spec §5/§9).
type Store struct {
	identity  ServerIdentity
	validator CertValidator

	mu      sync.Mutex
	clients map[string]*client
}

// NewStore creates an empty pairing store bound to a server identity.
func NewStore(identity ServerIdentity) *Store {
	return &Store{
		identity:  identity,
		validator: noopValidator,
		clients:   make(map[string]*client),
	}
}

// SetCertValidator overrides the default no-op client certificate
// validator.
func (s *Store) SetCertValidator(v CertValidator) {
	if v == nil {
		v = noopValidator
	}
	s.validator = v
}

// deriveKey computes SHA-256(salt || pin)[:16], the pairing key.
func deriveKey(salt [16]byte, pin string) [16]byte {
	h := sha256.New()
	h.Write(salt[:])
	h.Write([]byte(pin))
	sum := h.Sum(nil)
	var key [16]byte
	copy(key[:], sum[:16])
	return key
}

// GetServerCert creates a client record and blocks until a matching
// /pin request arrives (or done fires), then returns the server's PEM
// certificate. done is typically an HTTP request's context.Done().
func (s *Store) GetServerCert(uniqueID string, clientCertPEM []byte, salt [16]byte, done <-chan struct{}) ([]byte, error) {
	block, _ := pem.Decode(clientCertPEM)
	if block == nil {
		return nil, fmt.Errorf("pairing: %w: not PEM", ErrInvalidCertCert)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pairing: %w: %v", ErrInvalidCertCert, err)
	}

	c := newClient(uniqueID, cert, salt)
	s.mu.Lock()
	s.clients[uniqueID] = c
	s.mu.Unlock()

	select {
	case <-c.pinCh:
	case <-done:
		return nil, errors.New("pairing: getservercert cancelled before pin was received")
	}

	return s.identity.CertPEM, nil
}

// SubmitPin handles the /pin phase: derives the pairing key and wakes
// any blocked getservercert call for this uniqueid.
func (s *Store) SubmitPin(uniqueID, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uniqueID]
	if !ok {
		return ErrUnknownClient
	}

	key := deriveKey(c.salt, pin)
	c.key = &key
	c.state = PinSet
	c.notifyPin()
	return nil
}

// ClientChallenge handles the clientchallenge phase.
func (s *Store) ClientChallenge(uniqueID string, clientChallengeCipher []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uniqueID]
	if !ok {
		return nil, ErrUnknownClient
	}
	if c.key == nil {
		return nil, ErrWrongPhase
	}

	decrypted, err := cryptoutil.ECBDecrypt(c.key[:], clientChallengeCipher)
	if err != nil {
		return nil, err
	}

	var serverSecret [16]byte
	if _, err := rand.Read(serverSecret[:]); err != nil {
		return nil, err
	}

	hashInput := make([]byte, 0, len(decrypted)+len(s.identity.Cert.Signature)+len(serverSecret))
	hashInput = append(hashInput, decrypted...)
	hashInput = append(hashInput, s.identity.Cert.Signature...)
	hashInput = append(hashInput, serverSecret[:]...)
	sum := sha256.Sum256(hashInput)

	var serverChallenge [16]byte
	if _, err := rand.Read(serverChallenge[:]); err != nil {
		return nil, err
	}

	response := make([]byte, 0, len(sum)+len(serverChallenge))
	response = append(response, sum[:]...)
	response = append(response, serverChallenge[:]...)

	ciphertext, err := cryptoutil.ECBEncrypt(c.key[:], response)
	if err != nil {
		return nil, err
	}

	c.serverSecret = &serverSecret
	c.serverChallenge = &serverChallenge
	c.state = ChallengeIssued
	return ciphertext, nil
}

// ServerChallengeResponse handles the serverchallengeresp phase.
func (s *Store) ServerChallengeResponse(uniqueID string, serverChallengeRespCipher []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uniqueID]
	if !ok {
		return nil, ErrUnknownClient
	}
	if c.key == nil || c.serverSecret == nil {
		return nil, ErrWrongPhase
	}

	clientHash, err := cryptoutil.ECBDecrypt(c.key[:], serverChallengeRespCipher)
	if err != nil {
		return nil, err
	}
	c.clientHash = clientHash

	signature, err := rsa.SignPKCS1v15(rand.Reader, s.identity.PrivateKey, crypto.SHA256, sha256Sum(c.serverSecret[:]))
	if err != nil {
		return nil, err
	}

	pairingSecret := make([]byte, 0, 16+len(signature))
	pairingSecret = append(pairingSecret, c.serverSecret[:]...)
	pairingSecret = append(pairingSecret, signature...)

	c.state = SecretExchanged
	return pairingSecret, nil
}

// ClientPairingSecret handles the clientpairingsecret phase: the
// final MITM-detecting hash check that binds the exchange to both
// certificates' signatures.
func (s *Store) ClientPairingSecret(uniqueID string, clientPairingSecret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uniqueID]
	if !ok {
		return ErrUnknownClient
	}
	if c.serverChallenge == nil || c.clientHash == nil {
		return ErrWrongPhase
	}
	if len(clientPairingSecret) != 256+16 {
		return fmt.Errorf("pairing: %w: expected %d bytes, got %d", ErrBadLength, 256+16, len(clientPairingSecret))
	}

	clientSecret := clientPairingSecret[:16]
	// The trailing 256 bytes are the client's RSA signature over its
	// secret; the reference implementation never verifies it (a known
	// gap alongside full X.509 chain validation, spec §9), so neither do we.

	data := make([]byte, 0, 16+len(c.cert.Signature)+16)
	data = append(data, c.serverChallenge[:]...)
	data = append(data, c.cert.Signature...)
	data = append(data, clientSecret...)
	sum := sha256.Sum256(data)

	if string(sum[:]) != string(c.clientHash) {
		return ErrHashMismatch
	}

	if err := s.validator(c.cert); err != nil {
		return fmt.Errorf("pairing: %w: %v", ErrInvalidCertCert, err)
	}

	c.state = Verified
	return nil
}

// PairChallenge handles the idempotent pairchallenge phase: it only
// confirms the client reached Verified.
func (s *Store) PairChallenge(uniqueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uniqueID]
	if !ok {
		return ErrUnknownClient
	}
	if c.state != Verified {
		return ErrWrongPhase
	}
	return nil
}

// Unpair removes a client record, destroying all pairing state.
func (s *Store) Unpair(uniqueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[uniqueID]; !ok {
		return ErrUnknownClient
	}
	delete(s.clients, uniqueID)
	return nil
}

// State returns the current pairing state for a client, for tests and
// diagnostics.
func (s *Store) State(uniqueID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[uniqueID]
	if !ok {
		return 0, false
	}
	return c.state, true
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

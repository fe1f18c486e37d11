package pairing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/moonshine-go/moonshine/internal/cryptoutil"
)

func generateTestIdentity(t *testing.T, commonName string) (ServerIdentity, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(20, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return ServerIdentity{CertPEM: certPEM, Cert: cert, PrivateKey: key}, certPEM
}

// runHappyPath drives the full five-phase exchange and returns the
// store plus the client's identity and PEM certificate, for reuse
// across tests.
func runHappyPath(t *testing.T) (*Store, ServerIdentity, []byte) {
	t.Helper()

	serverIdentity, _ := generateTestIdentity(t, "moonshine-host")
	clientIdentity, clientCertPEM := generateTestIdentity(t, "moonlight-client")

	store := NewStore(serverIdentity)

	const uniqueID = "abc123"
	var salt [16]byte
	copy(salt[:], []byte("0123456789abcdef"))

	done := make(chan struct{})
	certCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		cert, err := store.GetServerCert(uniqueID, clientCertPEM, salt, done)
		certCh <- cert
		errCh <- err
	}()

	// Give GetServerCert a chance to register the client before /pin fires.
	for {
		if _, ok := store.State(uniqueID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := store.SubmitPin(uniqueID, "1234"); err != nil {
		t.Fatalf("SubmitPin: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("GetServerCert: %v", err)
	}
	if cert := <-certCh; len(cert) == 0 {
		t.Fatal("GetServerCert returned empty certificate")
	}

	key := deriveKey(salt, "1234")

	clientSecretSeed := make([]byte, 16)
	copy(clientSecretSeed, []byte("clientchallenge!"))
	clientChallengeCipher, err := cryptoutil.ECBEncrypt(key[:], clientSecretSeed)
	if err != nil {
		t.Fatalf("encrypt client challenge: %v", err)
	}

	respCipher, err := store.ClientChallenge(uniqueID, clientChallengeCipher)
	if err != nil {
		t.Fatalf("ClientChallenge: %v", err)
	}
	response, err := cryptoutil.ECBDecrypt(key[:], respCipher)
	if err != nil {
		t.Fatalf("decrypt challenge response: %v", err)
	}
	if len(response) != 48 {
		t.Fatalf("challenge response length = %d, want 48", len(response))
	}
	serverChallenge := response[32:48]

	// Compute the client hash the way a real client does:
	// SHA256(serverChallenge || clientCertSig || clientSecret), sent
	// encrypted under the shared key. ClientPairingSecret recomputes this
	// hash from the client secret it receives later and rejects a
	// mismatch, so it must be exact.
	clientHashInput := append(append([]byte{}, serverChallenge...), clientIdentity.Cert.Signature...)
	var fakeClientSecret [16]byte
	copy(fakeClientSecret[:], []byte("clientsecret1234"))
	clientHashInput = append(clientHashInput, fakeClientSecret[:]...)
	clientHash := sha256.Sum256(clientHashInput)

	serverChallengeRespCipher, err := cryptoutil.ECBEncrypt(key[:], clientHash[:])
	if err != nil {
		t.Fatalf("encrypt server challenge response: %v", err)
	}

	pairingSecret, err := store.ServerChallengeResponse(uniqueID, serverChallengeRespCipher)
	if err != nil {
		t.Fatalf("ServerChallengeResponse: %v", err)
	}
	if len(pairingSecret) != 16+256 {
		t.Fatalf("pairing secret length = %d, want %d", len(pairingSecret), 16+256)
	}

	serverSecret := pairingSecret[:16]
	sig := pairingSecret[16:]
	if err := rsa.VerifyPKCS1v15(&serverIdentity.PrivateKey.PublicKey, crypto.SHA256, sha256Sum(serverSecret), sig); err != nil {
		t.Fatalf("server secret signature did not verify: %v", err)
	}

	clientPairingSecret := append(append([]byte{}, fakeClientSecret[:]...), make([]byte, 256)...)
	if err := store.ClientPairingSecret(uniqueID, clientPairingSecret); err != nil {
		t.Fatalf("ClientPairingSecret: %v", err)
	}

	if state, _ := store.State(uniqueID); state != Verified {
		t.Fatalf("state = %v, want Verified", state)
	}
	if err := store.PairChallenge(uniqueID); err != nil {
		t.Fatalf("PairChallenge: %v", err)
	}

	return store, clientIdentity, clientCertPEM
}

func TestHappyPath(t *testing.T) {
	runHappyPath(t)
}

func TestUnknownUniqueIDRejectedAtEveryPhase(t *testing.T) {
	serverIdentity, _ := generateTestIdentity(t, "moonshine-host")
	store := NewStore(serverIdentity)

	if err := store.SubmitPin("ghost", "1234"); err != ErrUnknownClient {
		t.Errorf("SubmitPin: got %v, want ErrUnknownClient", err)
	}
	if _, err := store.ClientChallenge("ghost", make([]byte, 16)); err != ErrUnknownClient {
		t.Errorf("ClientChallenge: got %v, want ErrUnknownClient", err)
	}
	if _, err := store.ServerChallengeResponse("ghost", make([]byte, 32)); err != ErrUnknownClient {
		t.Errorf("ServerChallengeResponse: got %v, want ErrUnknownClient", err)
	}
	if err := store.ClientPairingSecret("ghost", make([]byte, 272)); err != ErrUnknownClient {
		t.Errorf("ClientPairingSecret: got %v, want ErrUnknownClient", err)
	}
	if err := store.PairChallenge("ghost"); err != ErrUnknownClient {
		t.Errorf("PairChallenge: got %v, want ErrUnknownClient", err)
	}
	if err := store.Unpair("ghost"); err != ErrUnknownClient {
		t.Errorf("Unpair: got %v, want ErrUnknownClient", err)
	}
}

func TestClientPairingSecretRejectsBadLength(t *testing.T) {
	serverIdentity, _ := generateTestIdentity(t, "moonshine-host")
	_, clientCertPEM := generateTestIdentity(t, "moonlight-client")

	store := NewStore(serverIdentity)
	const uniqueID = "short"
	var salt [16]byte

	done := make(chan struct{})
	go store.GetServerCert(uniqueID, clientCertPEM, salt, done)
	for {
		if _, ok := store.State(uniqueID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	store.SubmitPin(uniqueID, "0000")

	key := deriveKey(salt, "0000")
	cipher, _ := cryptoutil.ECBEncrypt(key[:], make([]byte, 16))
	if _, err := store.ClientChallenge(uniqueID, cipher); err != nil {
		t.Fatalf("ClientChallenge: %v", err)
	}
	respCipher, _ := cryptoutil.ECBEncrypt(key[:], make([]byte, 32))
	if _, err := store.ServerChallengeResponse(uniqueID, respCipher); err != nil {
		t.Fatalf("ServerChallengeResponse: %v", err)
	}

	if err := store.ClientPairingSecret(uniqueID, make([]byte, 10)); !errors.Is(err, ErrBadLength) {
		t.Errorf("got %v, want ErrBadLength", err)
	}
}

func TestClientPairingSecretDetectsHashMismatch(t *testing.T) {
	serverIdentity, _ := generateTestIdentity(t, "moonshine-host")
	_, clientCertPEM := generateTestIdentity(t, "moonlight-client")

	store := NewStore(serverIdentity)
	const uniqueID = "mitm"
	var salt [16]byte

	done := make(chan struct{})
	go store.GetServerCert(uniqueID, clientCertPEM, salt, done)
	for {
		if _, ok := store.State(uniqueID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	store.SubmitPin(uniqueID, "0000")

	key := deriveKey(salt, "0000")
	cipher, _ := cryptoutil.ECBEncrypt(key[:], make([]byte, 16))
	if _, err := store.ClientChallenge(uniqueID, cipher); err != nil {
		t.Fatalf("ClientChallenge: %v", err)
	}
	// Respond with an arbitrary (wrong) hash.
	wrongHash := sha256.Sum256([]byte("not the real hash"))
	respCipher, _ := cryptoutil.ECBEncrypt(key[:], wrongHash[:])
	if _, err := store.ServerChallengeResponse(uniqueID, respCipher); err != nil {
		t.Fatalf("ServerChallengeResponse: %v", err)
	}

	clientPairingSecret := make([]byte, 272)
	if err := store.ClientPairingSecret(uniqueID, clientPairingSecret); err != ErrHashMismatch {
		t.Errorf("got %v, want ErrHashMismatch", err)
	}
	if state, _ := store.State(uniqueID); state == Verified {
		t.Error("state advanced to Verified despite hash mismatch")
	}
}

func TestPairChallengeBeforeVerifiedIsRejected(t *testing.T) {
	serverIdentity, _ := generateTestIdentity(t, "moonshine-host")
	_, clientCertPEM := generateTestIdentity(t, "moonlight-client")
	store := NewStore(serverIdentity)

	const uniqueID = "early"
	var salt [16]byte
	done := make(chan struct{})
	go store.GetServerCert(uniqueID, clientCertPEM, salt, done)
	for {
		if _, ok := store.State(uniqueID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := store.PairChallenge(uniqueID); err != ErrWrongPhase {
		t.Errorf("got %v, want ErrWrongPhase", err)
	}
}

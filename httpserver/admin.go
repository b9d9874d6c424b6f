package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/treasury-vault/kms"
)

// AdminHandler collects administrator shares until the master key is reconstructed.
//
// Every request is authenticated with the X-Admin-ID and X-Admin-Signature headers. The
// signature covers the request path followed by the body.
type AdminHandler struct {
	log          *slog.Logger
	adminPubKeys map[string][]byte
	kms          *kms.ShamirKMS
}

// NewAdminHandler creates an admin handler. adminPubKeys maps admin ids to PEM public keys and
// must list the same keys the KMS was configured with.
func NewAdminHandler(log *slog.Logger, adminPubKeys map[string][]byte, shamirKMS *kms.ShamirKMS) *AdminHandler {
	return &AdminHandler{
		log:          log,
		adminPubKeys: adminPubKeys,
		kms:          shamirKMS,
	}
}

// IsUnsealed reports whether the master key is available.
func (h *AdminHandler) IsUnsealed() bool {
	return h.kms.IsUnlocked()
}

// WaitForUnseal blocks until enough shares were submitted or ctx is done.
func (h *AdminHandler) WaitForUnseal(ctx context.Context) error {
	select {
	case <-h.kms.Unlocked():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdminRouter returns the unseal routes, meant to be mounted under /api/admin/unseal.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Post("/share", h.handleSubmitShare)
	return r
}

// handleStatus reports unseal progress.
//
// Endpoint: GET /status
func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.verifyAdmin(r); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, h.kms.Status())
}

type shareSubmission struct {
	Share     string `json:"share"`     // base64 encoded
	Signature string `json:"signature"` // base64 encoded
}

// handleSubmitShare accepts one administrator's share.
//
// Endpoint: POST /share
// Body: {"share": "<base64>", "signature": "<base64>"}
func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.verifyAdmin(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if h.kms.IsUnlocked() {
		http.Error(w, "Already unsealed", http.StatusConflict)
		return
	}

	var submission shareSubmission
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&submission); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	share, err := base64.StdEncoding.DecodeString(submission.Share)
	if err != nil {
		http.Error(w, "Invalid share encoding", http.StatusBadRequest)
		return
	}
	signature, err := base64.StdEncoding.DecodeString(submission.Signature)
	if err != nil {
		http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
		return
	}

	if err := h.kms.SubmitShare(share, signature, h.adminPubKeys[adminID]); err != nil {
		h.log.Error("Share submission failed", "err", err, "adminID", adminID)
		http.Error(w, "Share submission failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	status := h.kms.Status()
	if status.Unlocked {
		h.log.Info("Master key reconstructed, vault unsealed", "adminID", adminID)
	} else {
		h.log.Info("Share accepted", "adminID", adminID, "received", status.Received, "threshold", status.Threshold)
	}
	writeJSON(w, http.StatusOK, status)
}

// verifyAdmin checks that the request is signed by a registered admin.
// Both ECDSA (signature over sha256 of path+body) and Ed25519 (over path+body) keys are accepted.
func (h *AdminHandler) verifyAdmin(r *http.Request) (string, bool) {
	adminID := r.Header.Get("X-Admin-ID")
	adminSignatureStr := r.Header.Get("X-Admin-Signature")
	if adminID == "" || adminSignatureStr == "" {
		return "", false
	}

	pubKeyPEM, exists := h.adminPubKeys[adminID]
	if !exists {
		h.log.Warn("Authentication failed: unknown admin ID", "adminID", adminID)
		return adminID, false
	}

	adminSignature, err := base64.StdEncoding.DecodeString(adminSignatureStr)
	if err != nil {
		h.log.Warn("Authentication failed: invalid signature encoding", "adminID", adminID, "err", err)
		return adminID, false
	}

	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		h.log.Error("Failed to decode admin public key PEM", "adminID", adminID)
		return adminID, false
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		h.log.Error("Failed to parse admin public key", "adminID", adminID, "err", err)
		return adminID, false
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			h.log.Error("Failed to read request body", "err", err)
			return adminID, false
		}
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}
	message := []byte(r.URL.Path + string(bodyBytes))

	var valid bool
	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		hash := sha256.Sum256(message)
		valid = ecdsa.VerifyASN1(key, hash[:], adminSignature)
	case ed25519.PublicKey:
		valid = ed25519.Verify(key, message, adminSignature)
	default:
		h.log.Error("Admin public key is neither ECDSA nor ED25519", "adminID", adminID)
		return adminID, false
	}
	if !valid {
		h.log.Warn("Authentication failed: invalid signature", "adminID", adminID)
		return adminID, false
	}

	h.log.Debug("Admin authentication successful", "adminID", adminID)
	return adminID, true
}

// CreateSignedAdminRequest builds a request carrying the admin authentication headers.
func CreateSignedAdminRequest(method, reqURL string, body []byte, adminID string, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	parsedURL, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	hash := sha256.Sum256([]byte(parsedURL.Path + string(body)))
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set("X-Admin-ID", adminID)
	req.Header.Set("X-Admin-Signature", base64.StdEncoding.EncodeToString(signature))
	return req, nil
}

// SubmitShareRequest builds a signed share submission for the admin unseal endpoint.
func SubmitShareRequest(baseURL, adminID string, share []byte, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	signature, err := kms.SignShare(share, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share: %w", err)
	}
	body, err := json.Marshal(shareSubmission{
		Share:     base64.StdEncoding.EncodeToString(share),
		Signature: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return nil, err
	}
	return CreateSignedAdminRequest(http.MethodPost, baseURL+"/api/admin/unseal/share", body, adminID, privateKey)
}

// LoadAdminKeys loads admin public keys from JSON of the form
// {"admins": [{"id": "...", "pubkey": "<PEM>"}]}.
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var data struct {
		Admins []struct {
			ID     string `json:"id"`
			PubKey string `json:"pubkey"`
		} `json:"admins"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	result := make(map[string][]byte)
	for _, admin := range data.Admins {
		block, _ := pem.Decode([]byte(admin.PubKey))
		if block == nil {
			return nil, fmt.Errorf("invalid PEM data for admin %s", admin.ID)
		}
		if _, err := x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid public key for admin %s: %w", admin.ID, err)
		}
		if _, dup := result[admin.ID]; dup {
			return nil, fmt.Errorf("duplicate admin id %s", admin.ID)
		}
		result[admin.ID] = []byte(admin.PubKey)
	}

	return result, nil
}

// GenerateAdminKeyPair generates a P-256 key pair for an administrator and returns the
// private and public keys in PEM format.
func GenerateAdminKeyPair() (string, string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})

	return string(privateKeyPEM), string(publicKeyPEM), nil
}

// ParsePrivateKey parses an ECDSA private key from PEM format.
func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}

	return privateKey, nil
}

// ComputeFingerprint returns the hex sha256 of a PEM public key.
func ComputeFingerprint(publicKeyPEM []byte) string {
	h := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(h[:])
}

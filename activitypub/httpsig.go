package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

// Verification failure reasons. The enforcement decision (reject vs.
// log-and-allow) is made in exactly one place, the inbox handler.
const (
	ReasonMissingSignature  = "missing_signature"
	ReasonUnknownKey        = "unknown_key"
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonDigestMismatch    = "digest_mismatch"
	ReasonStaleDate         = "stale_date"
)

// DateSkewTolerance bounds how far an inbound request's Date header may
// drift from local time before the signature is considered stale.
const DateSkewTolerance = time.Hour

var keyIdPattern = regexp.MustCompile(`keyId="([^"]+)"`)

// VerifyResult reports the outcome of inbound signature verification.
type VerifyResult struct {
	Valid  bool
	KeyId  string
	Reason string
	Err    error
}

// KeyResolver resolves a signature keyId URI to a PEM public key,
// typically through the remote actor cache.
type KeyResolver func(keyId string) (string, error)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// VerifyRequest verifies the HTTP signature and body digest of an inbound
// request. The body must be the raw bytes already read from the request.
func VerifyRequest(req *http.Request, body []byte, resolve KeyResolver) VerifyResult {
	signature := req.Header.Get("Signature")
	if signature == "" {
		return VerifyResult{Reason: ReasonMissingSignature}
	}

	matches := keyIdPattern.FindStringSubmatch(signature)
	if matches == nil {
		return VerifyResult{Reason: ReasonMissingSignature, Err: fmt.Errorf("signature header has no keyId")}
	}
	keyId := matches[1]

	// Reject stale or future-dated requests before any crypto work.
	if dateHeader := req.Header.Get("Date"); dateHeader != "" {
		sent, err := http.ParseTime(dateHeader)
		if err != nil {
			return VerifyResult{KeyId: keyId, Reason: ReasonStaleDate, Err: err}
		}
		if skew := time.Since(sent); skew > DateSkewTolerance || skew < -DateSkewTolerance {
			return VerifyResult{KeyId: keyId, Reason: ReasonStaleDate,
				Err: fmt.Errorf("date header outside tolerance: %s", dateHeader)}
		}
	}

	// The Digest header binds the signature to the body. A signature that
	// covers only (request-target) host date leaves the body unbound, so
	// the header is required, not just checked when present.
	digest := req.Header.Get("Digest")
	if digest == "" {
		return VerifyResult{KeyId: keyId, Reason: ReasonDigestMismatch,
			Err: fmt.Errorf("digest header required")}
	}
	if !digestMatches(digest, body) {
		return VerifyResult{KeyId: keyId, Reason: ReasonDigestMismatch,
			Err: fmt.Errorf("digest header does not match request body")}
	}

	publicKeyPem, err := resolve(keyId)
	if err != nil {
		return VerifyResult{KeyId: keyId, Reason: ReasonUnknownKey, Err: err}
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return VerifyResult{KeyId: keyId, Reason: ReasonUnknownKey, Err: err}
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return VerifyResult{KeyId: keyId, Reason: ReasonSignatureMismatch, Err: err}
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return VerifyResult{KeyId: keyId, Reason: ReasonSignatureMismatch, Err: err}
	}

	return VerifyResult{Valid: true, KeyId: keyId}
}

// Digest calculates the SHA-256 digest header value for a request body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

func digestMatches(header string, body []byte) bool {
	return strings.EqualFold(header, Digest(body))
}

// ActorURIFromKeyId strips the key fragment from a keyId.
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func ActorURIFromKeyId(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey. Both PKIX and
// PKCS1 encodings appear in the wild.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if pkcs1Key, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return pkcs1Key, nil
		}
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}

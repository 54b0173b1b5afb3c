package manifest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Signature is a detached RS256 JWS over the manifest file bytes: the payload
// segment is omitted and recomputed from the manifest at verification time.
type Signature struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

var ErrBadSignature = errors.New("manifest signature does not match")

func signingInput(protected string, payload []byte) []byte {
	return []byte(protected + "." + base64.RawURLEncoding.EncodeToString(payload))
}

// Sign signs payload, normally the bytes written by Save, with a PEM encoded
// RSA private key (PKCS#1 or PKCS#8).
func Sign(payload, keyPEM []byte) (Signature, error) {
	key, err := parseRSAPrivateKey(keyPEM)
	if err != nil {
		return Signature{}, err
	}
	hdr, _ := json.Marshal(map[string]any{"alg": "RS256", "b64": true, "typ": "JOSE"})
	protected := base64.RawURLEncoding.EncodeToString(hdr)
	h := sha256.Sum256(signingInput(protected, payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
	if err != nil {
		return Signature{}, err
	}
	return Signature{Protected: protected, Signature: base64.RawURLEncoding.EncodeToString(sig)}, nil
}

// Verify checks sig against payload using the RSA key of a PEM certificate
// or PKIX public key.
func Verify(payload []byte, sig Signature, certPEM []byte) error {
	pub, err := parseRSAPublicKey(certPEM)
	if err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(sig.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	h := sha256.Sum256(signingInput(sig.Protected, payload))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], raw); err != nil {
		return ErrBadSignature
	}
	return nil
}

// SignFile signs the manifest at path and writes the JWS next to it.
func SignFile(path, keyPath, out string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}
	sig, err := Sign(payload, keyPEM)
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}
	b, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}

// VerifyFile checks a JWS written by SignFile.
func VerifyFile(path, sigPath, certPath string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(sigPath)
	if err != nil {
		return err
	}
	var sig Signature
	if err := json.Unmarshal(b, &sig); err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	return Verify(payload, sig, certPEM)
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	var pub any
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub = cert.PublicKey
	default:
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub = k
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

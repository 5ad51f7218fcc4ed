package meta

import (
	"net/http"
	"net/url"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()
	body := []byte(`{"object":"page","entry":[]}`)
	secret := "app-secret"

	headers := http.Header{}
	headers.Set(SignatureHeader, Sign(body, secret))
	if !VerifySignature(body, headers, secret) {
		t.Fatal("valid signature rejected")
	}

	// Any mutation of body, header, or secret must fail.
	if VerifySignature(append([]byte(nil), append(body, ' ')...), headers, secret) {
		t.Fatal("mutated body accepted")
	}
	if VerifySignature(body, headers, "other-secret") {
		t.Fatal("wrong secret accepted")
	}
	tampered := http.Header{}
	tampered.Set(SignatureHeader, Sign(body, secret)+"00")
	if VerifySignature(body, tampered, secret) {
		t.Fatal("tampered header accepted")
	}
}

func TestVerifySignature_MissingOrMalformedHeader(t *testing.T) {
	t.Parallel()
	body := []byte(`{}`)
	if VerifySignature(body, http.Header{}, "secret") {
		t.Fatal("missing header accepted")
	}
	headers := http.Header{}
	headers.Set(SignatureHeader, "md5=abcdef")
	if VerifySignature(body, headers, "secret") {
		t.Fatal("non-sha256 header accepted")
	}
	headers.Set(SignatureHeader, Sign(body, ""))
	if VerifySignature(body, headers, "") {
		t.Fatal("empty configured secret must never verify")
	}
}

func TestHandshake(t *testing.T) {
	t.Parallel()
	params := url.Values{}
	params.Set("hub.mode", "subscribe")
	params.Set("hub.verify_token", "tok")
	params.Set("hub.challenge", "xyz")

	challenge, ok := Handshake(params, "tok")
	if !ok || challenge != "xyz" {
		t.Fatalf("Handshake = (%q, %v), want (xyz, true)", challenge, ok)
	}

	if _, ok := Handshake(params, "other"); ok {
		t.Fatal("wrong verify token accepted")
	}
	if _, ok := Handshake(params, ""); ok {
		t.Fatal("empty configured token must never verify")
	}

	params.Set("hub.mode", "unsubscribe")
	if _, ok := Handshake(params, "tok"); ok {
		t.Fatal("non-subscribe mode accepted")
	}
}

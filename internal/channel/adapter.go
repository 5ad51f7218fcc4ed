package channel

import (
	"context"
	"net/http"
	"net/url"
)

// Verifier authenticates an inbound webhook delivery. Verify must operate on
// the raw, unparsed request body: re-serializing parsed JSON invalidates the
// signature. Implementations must compare signatures in constant time.
type Verifier interface {
	Verify(rawBody []byte, headers http.Header, secret string) bool
}

// HandshakeVerifier is implemented by adapters whose platform requires a GET
// subscription handshake. It is stateless: the challenge is echoed only when
// the request's verification token matches the configured value.
type HandshakeVerifier interface {
	Handshake(params url.Values, verifyToken string) (challenge string, ok bool)
}

// Normalizer converts a raw platform payload into canonical messages. Event
// types the gateway does not act on (delivery receipts, read receipts, remote
// typing events) yield no entries; that is not an error.
type Normalizer interface {
	Parse(rawBody []byte) ([]Inbound, error)
}

// Sender delivers a text reply through the platform using a connection's
// decrypted credentials.
type Sender interface {
	SendText(ctx context.Context, creds Credentials, recipientID, text string) DeliveryResult
}

// TypingNotifier is implemented by adapters whose platform supports a typing
// indicator. Sends are best-effort.
type TypingNotifier interface {
	SendTyping(ctx context.Context, creds Credentials, recipientID string) error
}

// TemplateSender is implemented by adapters whose platform supports rich
// structured replies.
type TemplateSender interface {
	SendTemplate(ctx context.Context, creds Credentials, recipientID string, tpl Template) DeliveryResult
}

// CredentialProber is implemented by adapters that can cheaply exercise a
// connection's credentials, used by the background status checker.
type CredentialProber interface {
	ProbeCredentials(ctx context.Context, creds Credentials) error
}

// Adapter is the interface every channel adapter must implement. Optional
// capabilities (handshake, typing, templates, probing) are expressed through
// the interfaces above and discovered via the Registry accessors.
type Adapter interface {
	Platform() Platform
	Verifier
	Normalizer
	Sender
}

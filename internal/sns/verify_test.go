package sns

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// certAndKey builds a self-signed RSA certificate and returns its PEM bytes.
func certAndKey(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sns.amazonaws.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), key
}

func signEnvelope(t *testing.T, env *Envelope, key *rsa.PrivateKey) {
	t.Helper()
	sum := sha1.Sum([]byte(buildStringToSign(env)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, sum[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)
}

func verifierServing(certPEM []byte) *Verifier {
	return &Verifier{
		Timeout: time.Second,
		HTTP: &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewReader(certPEM)),
				Header:     make(http.Header),
			}, nil
		})},
	}
}

func notificationEnvelope() *Envelope {
	return &Envelope{
		Type:             TypeNotification,
		MessageID:        "sns-message-id",
		TopicARN:         "arn:aws:sns:ap-southeast-2:123456789012:ses-events",
		Message:          `{"notificationType":"Delivery"}`,
		Timestamp:        "2025-01-01T00:00:00.000Z",
		SignatureVersion: "1",
		SigningCertURL:   "https://sns.ap-southeast-2.amazonaws.com/SimpleNotificationService-abc.pem",
	}
}

func TestVerifyHappyPath(t *testing.T) {
	certPEM, key := certAndKey(t)
	env := notificationEnvelope()
	signEnvelope(t, env, key)

	v := verifierServing(certPEM)
	ok, reason := v.Verify(context.Background(), env)
	if !ok {
		t.Fatalf("expected verified, got reason %q", reason)
	}
}

func TestVerifySubscriptionConfirmationFieldOrder(t *testing.T) {
	certPEM, key := certAndKey(t)
	env := &Envelope{
		Type:             TypeSubscriptionConfirmation,
		MessageID:        "sns-message-id",
		TopicARN:         "arn:aws:sns:us-east-1:123456789012:ses-events",
		Message:          "You have chosen to subscribe",
		SubscribeURL:     "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription",
		Token:            "tok",
		Timestamp:        "2025-01-01T00:00:00.000Z",
		SignatureVersion: "1",
		SigningCertURL:   "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc.pem",
	}
	signEnvelope(t, env, key)

	v := verifierServing(certPEM)
	ok, reason := v.Verify(context.Background(), env)
	if !ok {
		t.Fatalf("expected verified, got reason %q", reason)
	}
}

func TestVerifyTamperedMessage(t *testing.T) {
	certPEM, key := certAndKey(t)
	env := notificationEnvelope()
	signEnvelope(t, env, key)
	env.Message = `{"notificationType":"Bounce"}`

	v := verifierServing(certPEM)
	ok, reason := v.Verify(context.Background(), env)
	if ok {
		t.Fatal("expected verification failure for tampered message")
	}
	if reason != "signature verification failed" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestVerifyUnsupportedVersion(t *testing.T) {
	env := notificationEnvelope()
	env.SignatureVersion = "2"
	env.Signature = "dGVzdA=="

	v := verifierServing(nil)
	ok, reason := v.Verify(context.Background(), env)
	if ok || reason != "unsupported SignatureVersion" {
		t.Fatalf("got ok=%v reason=%q", ok, reason)
	}
}

func TestVerifyCertFetchFailureFailsClosed(t *testing.T) {
	_, key := certAndKey(t)
	env := notificationEnvelope()
	signEnvelope(t, env, key)

	v := &Verifier{
		Timeout: time.Second,
		HTTP: &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return nil, context.DeadlineExceeded
		})},
	}
	ok, reason := v.Verify(context.Background(), env)
	if ok || reason != "failed to fetch SigningCertURL" {
		t.Fatalf("got ok=%v reason=%q", ok, reason)
	}
}

func TestAllowedCertURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		ok   bool
	}{
		{"regional host", "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc.pem", true},
		{"bare host", "https://sns.amazonaws.com/SimpleNotificationService-abc.pem", true},
		{"http scheme", "http://sns.us-east-1.amazonaws.com/SimpleNotificationService-abc.pem", false},
		{"attacker host", "https://sns.us-east-1.amazonaws.com.evil.example/SimpleNotificationService-abc.pem", false},
		{"non-sns host", "https://s3.amazonaws.com/SimpleNotificationService-abc.pem", false},
		{"wrong path", "https://sns.us-east-1.amazonaws.com/other.pem", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := allowedCertURL(tc.url)
			if ok != tc.ok {
				t.Fatalf("allowedCertURL(%q) = %v (%s), want %v", tc.url, ok, reason, tc.ok)
			}
		})
	}
}

func TestVerifyRejectsUntrustedCertSourceBeforeFetch(t *testing.T) {
	env := notificationEnvelope()
	env.SigningCertURL = "https://evil.example/SimpleNotificationService-abc.pem"
	env.Signature = "dGVzdA=="

	fetched := false
	v := &Verifier{
		Timeout: time.Second,
		HTTP: &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			fetched = true
			return nil, context.DeadlineExceeded
		})},
	}
	ok, _ := v.Verify(context.Background(), env)
	if ok {
		t.Fatal("expected rejection")
	}
	if fetched {
		t.Fatal("certificate must not be fetched from an untrusted source")
	}
}

package sns

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Verifier checks that an envelope was genuinely produced by SNS. The
// certificate is trusted once its URL passes the host/path allowlist; there is
// no CA-chain validation. Swap this type out if that posture ever changes.
type Verifier struct {
	HTTP    *http.Client
	Timeout time.Duration
}

// Verify never returns an error upward: every failure path yields
// (false, reason) and the caller's policy decides what to do with an
// unverified envelope.
func (v *Verifier) Verify(ctx context.Context, env *Envelope) (bool, string) {
	if env.SignatureVersion != "1" {
		return false, "unsupported SignatureVersion"
	}
	if env.Signature == "" || env.SigningCertURL == "" {
		return false, "missing Signature or SigningCertURL"
	}

	if ok, reason := allowedCertURL(env.SigningCertURL); !ok {
		return false, reason
	}

	certPEM, err := v.fetch(ctx, env.SigningCertURL)
	if err != nil {
		return false, "failed to fetch SigningCertURL"
	}

	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return false, "invalid Signature encoding"
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return false, "SigningCertURL did not return a PEM certificate"
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, "invalid signing certificate"
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false, "signing certificate key is not RSA"
	}

	// SNS signatures are SHA1-RSA regardless of the certificate's own scheme.
	sum := sha1.Sum([]byte(buildStringToSign(env)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, sum[:], sig); err != nil {
		return false, "signature verification failed"
	}
	return true, "ok"
}

// ConfirmSubscription completes the SNS handshake. A plain GET on the
// SubscribeURL is sufficient.
func (v *Verifier) ConfirmSubscription(ctx context.Context, subscribeURL string) bool {
	_, err := v.fetch(ctx, subscribeURL)
	return err == nil
}

func (v *Verifier) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := v.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// allowedCertURL is a string allowlist, not PKI validation: https scheme, an
// SNS hostname, and the SNS certificate naming convention for the path.
func allowedCertURL(certURL string) (bool, string) {
	parsed, err := url.Parse(certURL)
	if err != nil {
		return false, "SigningCertURL is not a valid URL"
	}
	if parsed.Scheme != "https" {
		return false, "SigningCertURL must use https"
	}
	host := parsed.Hostname()
	if host == "" {
		return false, "SigningCertURL missing hostname"
	}
	if host != "sns.amazonaws.com" && !(strings.HasPrefix(host, "sns.") && strings.HasSuffix(host, ".amazonaws.com")) {
		return false, "SigningCertURL hostname is not allowed"
	}
	if !strings.HasPrefix(parsed.Path, "/SimpleNotificationService-") {
		return false, "SigningCertURL path is not allowed"
	}
	return true, "ok"
}

// buildStringToSign reconstructs the exact byte string SNS signed. The field
// order is fixed by SNS and differs between notifications and subscription
// handshakes; absent fields are skipped.
func buildStringToSign(env *Envelope) string {
	var fields [][2]string
	if env.Type == TypeNotification {
		fields = [][2]string{
			{"Message", env.Message},
			{"MessageId", env.MessageID},
			{"Subject", env.Subject},
			{"Timestamp", env.Timestamp},
			{"TopicArn", env.TopicARN},
			{"Type", env.Type},
		}
	} else {
		fields = [][2]string{
			{"Message", env.Message},
			{"MessageId", env.MessageID},
			{"SubscribeURL", env.SubscribeURL},
			{"Timestamp", env.Timestamp},
			{"Token", env.Token},
			{"TopicArn", env.TopicARN},
			{"Type", env.Type},
		}
	}

	var b strings.Builder
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		b.WriteString(f[0])
		b.WriteString("\n")
		b.WriteString(f[1])
		b.WriteString("\n")
	}
	return b.String()
}

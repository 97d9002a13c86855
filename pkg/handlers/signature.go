package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureHeader carries the provider's request signature
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks Twilio request signatures: base64(HMAC-SHA1(token,
// url + sorted form params)). JSON bodies are signed over url + raw body.
type SignatureValidator struct {
	authToken string
	publicURL string
}

// NewSignatureValidator returns nil when no token is configured, which
// disables validation.
func NewSignatureValidator(authToken, publicURL string) *SignatureValidator {
	if authToken == "" {
		return nil
	}
	return &SignatureValidator{authToken: authToken, publicURL: strings.TrimRight(publicURL, "/")}
}

// URL is the address the provider signed. With a configured public URL the
// request's own host is ignored, since proxies rewrite it.
func (v *SignatureValidator) URL(requestURL string, rawQuery string) string {
	if v.publicURL == "" {
		return requestURL
	}
	if rawQuery != "" {
		return v.publicURL + "?" + rawQuery
	}
	return v.publicURL
}

func (v *SignatureValidator) ValidateForm(signedURL string, params url.Values, signature string) error {
	return v.check(FormSignature(v.authToken, signedURL, params), signature)
}

func (v *SignatureValidator) ValidateBody(signedURL string, body []byte, signature string) error {
	return v.check(BodySignature(v.authToken, signedURL, body), signature)
}

func (v *SignatureValidator) check(expected, signature string) error {
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// FormSignature computes the signature of a form-encoded request
func FormSignature(authToken, signedURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(signedURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, value := range values {
			b.WriteString(k)
			b.WriteString(value)
		}
	}
	return sign(authToken, b.String())
}

// BodySignature computes the signature of a JSON request
func BodySignature(authToken, signedURL string, body []byte) string {
	return sign(authToken, signedURL+string(body))
}

func sign(key, data string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

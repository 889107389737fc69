package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"strings"
)

// ErrInvalidToken is returned for tokens that fail decoding or signature
// verification.
var ErrInvalidToken = errors.New("invalid tracking token")

// Claims is what a tracking token carries.
type Claims struct {
	MessageID string
	Recipient string
	URL       string
}

// Signer issues and verifies tracking tokens and rewrites HTML bodies. A
// token is base64url("message|recipient[|url]") + "." + a truncated HMAC.
type Signer struct {
	key     []byte
	baseURL string
}

// NewSigner creates a Signer. baseURL is the public origin serving /t/*.
func NewSigner(signingKey, baseURL string) *Signer {
	return &Signer{key: []byte(signingKey), baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Token encodes claims into a signed token.
func (s *Signer) Token(c Claims) string {
	data := c.MessageID + "|" + c.Recipient
	if c.URL != "" {
		data += "|" + c.URL
	}
	return base64.RawURLEncoding.EncodeToString([]byte(data)) + "." + s.sign(data)
}

// Parse verifies a token and returns its claims.
func (s *Signer) Parse(token string) (Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	data := string(decoded)
	if !hmac.Equal([]byte(s.sign(data)), []byte(sig)) {
		return Claims{}, ErrInvalidToken
	}
	parts := strings.SplitN(data, "|", 3)
	if len(parts) < 2 || parts[0] == "" {
		return Claims{}, ErrInvalidToken
	}
	c := Claims{MessageID: parts[0], Recipient: parts[1]}
	if len(parts) == 3 {
		c.URL = parts[2]
	}
	return c, nil
}

// OpenURL returns the pixel URL for a message.
func (s *Signer) OpenURL(messageID, recipient string) string {
	return fmt.Sprintf("%s/t/o/%s", s.baseURL, s.Token(Claims{MessageID: messageID, Recipient: recipient}))
}

// ClickURL returns the redirect URL wrapping target.
func (s *Signer) ClickURL(messageID, recipient, target string) string {
	return fmt.Sprintf("%s/t/c/%s", s.baseURL, s.Token(Claims{MessageID: messageID, Recipient: recipient, URL: target}))
}

// UnsubscribeURL returns the one-click unsubscribe URL.
func (s *Signer) UnsubscribeURL(messageID, recipient string) string {
	return fmt.Sprintf("%s/t/u/%s", s.baseURL, s.Token(Claims{MessageID: messageID, Recipient: recipient}))
}

// Inject adds the open pixel before </body> (or at the end) and rewrites
// absolute http(s) links to the click redirect.
func (s *Signer) Inject(body, messageID, recipient string, opens, clicks bool) string {
	if clicks {
		body = s.rewriteLinks(body, messageID, recipient)
	}
	if opens {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`,
			s.OpenURL(messageID, recipient))
		if strings.Contains(body, "</body>") {
			body = strings.Replace(body, "</body>", pixel+"</body>", 1)
		} else {
			body += pixel
		}
	}
	return body
}

func (s *Signer) rewriteLinks(body, messageID, recipient string) string {
	var b strings.Builder
	b.Grow(len(body))
	rest := body
	for {
		start := strings.Index(rest, `href="http`)
		if start == -1 {
			b.WriteString(rest)
			break
		}
		start += len(`href="`)
		end := strings.IndexByte(rest[start:], '"')
		if end == -1 {
			b.WriteString(rest)
			break
		}
		target := html.UnescapeString(rest[start : start+end])
		b.WriteString(rest[:start])
		if strings.HasPrefix(target, s.baseURL+"/t/") {
			b.WriteString(rest[start : start+end])
		} else {
			b.WriteString(html.EscapeString(s.ClickURL(messageID, recipient, target)))
		}
		rest = rest[start+end:]
	}
	return b.String()
}

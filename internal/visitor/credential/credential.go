// Package credential derives and decodes entry passes. Every output is a pure
// function of the visitor id and the issuer configuration, so the pass page,
// the notification and the gate always agree. Nothing in a credential is
// trusted beyond the visitor id: status is always re-read from the store.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "visitorpass/pkg/domain-errors"
)

// TokenType is the typ claim of every entry pass token.
const TokenType = "ENTRY_PASS"

// Credential is everything a visitor needs to present at the gate.
type Credential struct {
	VisitorID string
	PassLink  string
	ScanURL   string
	Token     string
}

// Issuer builds and decodes credentials for one deployment.
type Issuer struct {
	baseURL string
	key     []byte
	version int
}

// passClaims carries no time-based or random claims.
type passClaims struct {
	VisitorID string `json:"vid"`
	Type      string `json:"typ"`
	Version   int    `json:"ver"`
	jwt.RegisteredClaims
}

// NewIssuer validates configuration once at startup.
func NewIssuer(baseURL string, signingKey []byte, version int) (*Issuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("credential: invalid base url %q", baseURL)
	}
	if len(signingKey) == 0 {
		return nil, errors.New("credential: signing key is empty")
	}
	if version < 1 {
		return nil, errors.New("credential: version must be positive")
	}
	return &Issuer{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     signingKey,
		version: version,
	}, nil
}

// PassLink is the visitor-facing pass page.
func (i *Issuer) PassLink(visitorID string) string {
	return i.baseURL + "/pass/" + url.PathEscape(visitorID)
}

// ScanURL is what the pass QR code encodes: the staff scan page with the
// visitor id as the v parameter.
func (i *Issuer) ScanURL(visitorID string) string {
	return i.baseURL + "/staff?v=" + url.QueryEscape(visitorID)
}

// Token signs {vid, typ, ver} with HS256.
func (i *Issuer) Token(visitorID string) (string, error) {
	claims := passClaims{VisitorID: visitorID, Type: TokenType, Version: i.version}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("credential: sign token: %w", err)
	}
	return signed, nil
}

// Issue derives the full credential for visitorID.
func (i *Issuer) Issue(visitorID string) (Credential, error) {
	token, err := i.Token(visitorID)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		VisitorID: visitorID,
		PassLink:  i.PassLink(visitorID),
		ScanURL:   i.ScanURL(visitorID),
		Token:     token,
	}, nil
}

// Decode recovers the visitor id from any accepted payload shape: a signed
// token, a scan or pass URL, a JSON object with visitor_id, or a bare id.
// Anything else fails with CodeMalformedCredential.
func (i *Issuer) Decode(payload string) (string, error) {
	p := strings.TrimSpace(payload)
	if p == "" {
		return "", malformed("empty credential")
	}

	var id string
	switch {
	case looksLikeToken(p):
		v, err := i.decodeToken(p)
		if err != nil {
			return "", err
		}
		id = v
	case strings.HasPrefix(p, "{"):
		var body struct {
			VisitorID string `json:"visitor_id"`
		}
		if err := json.Unmarshal([]byte(p), &body); err != nil {
			return "", malformed("credential is not valid JSON")
		}
		id = body.VisitorID
	case strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://"):
		v, err := idFromURL(p)
		if err != nil {
			return "", err
		}
		id = v
	default:
		id = p
	}

	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", malformed("credential does not carry a valid visitor id")
	}
	return parsed.String(), nil
}

func (i *Issuer) decodeToken(raw string) (string, error) {
	var claims passClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", malformed("credential signature is invalid")
	}
	if claims.Type != TokenType {
		return "", malformed("credential is not an entry pass")
	}
	if claims.Version < 1 || claims.Version > i.version {
		return "", malformed("credential version is not supported")
	}
	return claims.VisitorID, nil
}

func idFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", malformed("credential URL is invalid")
	}
	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if n := len(segments); n >= 2 && segments[n-2] == "pass" {
		return segments[n-1], nil
	}
	return "", malformed("credential URL does not reference a visitor")
}

// looksLikeToken matches the three base64url segments of a compact JWS.
func looksLikeToken(s string) bool {
	return strings.HasPrefix(s, "eyJ") && strings.Count(s, ".") == 2
}

func malformed(msg string) error {
	return dErrors.New(dErrors.CodeMalformedCredential, msg)
}

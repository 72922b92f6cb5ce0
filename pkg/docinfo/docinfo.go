// Package docinfo parses the document descriptor returned by the web-examples
// backend when an Instant session is created or resolved. A descriptor names
// the document on the Instant server and carries the access token needed to
// open it.
package docinfo

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// DocumentInfo identifies a collaborative document and the token granting access to it.
type DocumentInfo struct {
	Identifier string `mapstructure:"identifier" validate:"required" json:"identifier"` // document identifier on the Instant server
	Token      string `mapstructure:"token" validate:"required" json:"token"`           // access token, usually a JWT
	ServerURL  string `mapstructure:"serverUrl" validate:"omitempty,url" json:"serverUrl,omitempty"`
	URL        string `mapstructure:"url" validate:"omitempty,url" json:"url,omitempty"` // shareable session URL
}

// keyAliases maps older payload keys onto the current ones.
var keyAliases = map[string]string{
	"documentId": "identifier",
	"jwt":        "token",
}

var validate = validator.New()

// New builds a DocumentInfo from a decoded JSON value. It reports false when
// the value is not a JSON object, when a field has the wrong type, or when
// identifier or token is missing.
func New(v any) (*DocumentInfo, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	normalized := make(map[string]any, len(obj))
	for k, val := range obj {
		if alias, ok := keyAliases[k]; ok {
			if _, exists := obj[alias]; exists {
				continue
			}
			k = alias
		}
		normalized[k] = val
	}

	var info DocumentInfo
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &info,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return nil, false
	}
	if err := decoder.Decode(normalized); err != nil {
		return nil, false
	}
	if err := validate.Struct(&info); err != nil {
		return nil, false
	}
	return &info, true
}

// claims decodes the token without verifying its signature. The signing key
// belongs to the Instant server; the client only reads the claims for display.
func (d *DocumentInfo) claims() (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(d.Token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// ExpiresAt returns the token expiry when the token is a JWT with an exp claim.
func (d *DocumentInfo) ExpiresAt() (time.Time, bool) {
	claims, ok := d.claims()
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Layer returns the Instant layer named in the token, if any.
func (d *DocumentInfo) Layer() (string, bool) {
	claims, ok := d.claims()
	if !ok {
		return "", false
	}
	layer, ok := claims["layer"].(string)
	if !ok || layer == "" {
		return "", false
	}
	return layer, true
}

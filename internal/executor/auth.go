// Package executor implements the ExecutorClient (§4.6): calling a
// Test Runner's HTTP endpoint with the auth scheme and optional
// secret decryption its SubSuiteDefinition specifies.
package executor

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fernet/fernet-go"
	"github.com/icholy/digest"
)

// decryptMarker is the shape a password takes when it needs
// decrypting, grounded on the originating implementation's
// `{"$decrypt": {"value": "..."}}` convention.
type decryptMarker struct {
	Decrypt struct {
		Value string `json:"value"`
	} `json:"$decrypt"`
}

// ResolvePassword turns the auth.password field - a bare string or a
// decrypt marker - into the literal password to send. A marker value
// without a configured key is returned as-is: decryption is opt-in.
func ResolvePassword(raw interface{}, key string) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		blob, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		var marker decryptMarker
		if err := json.Unmarshal(blob, &marker); err != nil || marker.Decrypt.Value == "" {
			return "", fmt.Errorf("password is an object but not a recognized $decrypt marker")
		}
		if key == "" {
			return marker.Decrypt.Value, nil
		}
		return decrypt(marker.Decrypt.Value, key)
	default:
		return "", fmt.Errorf("unsupported password type %T", raw)
	}
}

// decrypt reverses the Fernet (AES-128-CBC + HMAC-SHA256, versioned
// URL-safe token) encryption ETOS uses for provider-supplied
// passwords.
func decrypt(token, key string) (string, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return "", fmt.Errorf("invalid ETOS_ENCRYPTION_KEY: %w", err)
	}
	// ttl=0 tells fernet-go to skip its token-age check entirely (it
	// only compares against ttl when ttl != 0), matching Python's
	// Fernet.decrypt(token) called with no ttl argument - not "reject
	// anything older than zero seconds".
	plain := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{k})
	if plain == nil {
		return "", fmt.Errorf("failed to decrypt password: invalid token or key")
	}
	return string(plain), nil
}

// ClientFor returns the *http.Client to issue req through given the
// requested auth type. "digest" needs a transport that handles the
// server's 401 challenge-response round trip before the real request
// goes out; "basic" (the default) just needs the header set directly
// on base's transport, so base is returned unchanged.
func ClientFor(base *http.Client, req *http.Request, username, password, authType string) *http.Client {
	if authType == "digest" {
		client := *base
		client.Transport = &digest.Transport{
			Username:  username,
			Password:  password,
			Transport: base.Transport,
		}
		return &client
	}
	req.SetBasicAuth(username, password)
	return base
}

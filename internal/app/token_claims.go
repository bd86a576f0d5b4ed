package app

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errMalformedToken = errors.New("malformed token")

// UserIDFromToken reads the user id out of a JWT payload segment.
//
// The signature is NOT verified. The value is only good for scoping realtime
// room membership; the server verifies the token on every request and any
// security decision has to rely on that.
func UserIDFromToken(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", errMalformedToken, len(parts))
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", errMalformedToken, err)
	}

	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", fmt.Errorf("%w: payload json: %v", errMalformedToken, err)
	}

	for _, k := range []string{"userId", "id", "sub"} {
		if id := claimString(claims[k]); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no user id claim", errMalformedToken)
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

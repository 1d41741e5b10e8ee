package facebook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"social-login-service/internal/auth"
)

const maxGraphResponse = 1 << 20

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// graphGet issues a versioned Graph API GET and decodes the JSON body into out.
func (c *Client) graphGet(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.graphURL + "/" + c.graphVersion + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", auth.ErrProvider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", auth.ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("%w: %s (%s %d)", auth.ErrProvider, ge.Error.Message, ge.Error.Type, ge.Error.Code)
		}
		return fmt.Errorf("%w: status %d", auth.ErrProvider, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", auth.ErrProvider, err)
	}
	return nil
}

// appSecretProof is the HMAC-SHA256 of a user token keyed by the app secret.
func appSecretProof(appSecret, token string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

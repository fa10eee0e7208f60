// Package access decides whether a validated token may reach the protected
// tools. The decision combines the locally configured owner identity with a
// remote shared-access policy service, and it fails closed: any policy
// lookup failure denies the request.
package access

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const checkTimeout = 5 * time.Second

// Checker reports whether a user was granted shared access to a resource.
type Checker interface {
	IsSharedMember(ctx context.Context, resourceName, userID string) (bool, error)
}

// Client queries the cloud access-policy API over HTTP with a bounded
// timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a policy client for the cloud API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: checkTimeout,
		},
	}
}

// IsSharedMember asks the cloud API whether userID has shared access to the
// named resource.
func (c *Client) IsSharedMember(ctx context.Context, resourceName, userID string) (bool, error) {
	values := url.Values{}
	values.Set("robot_name", resourceName)
	values.Set("user_id", userID)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/check-access?"+values.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("access check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("access check returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read access check response: %w", err)
	}
	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("failed to decode access check response: %w", err)
	}
	return result.Allowed, nil
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// Reason explains the decision for logging: "open", "owner", "shared",
	// or "denied".
	Reason string
}

// Authorize is the single owner-or-shared-member decision applied by every
// protected entry point. With no owner configured the server runs in open
// mode and any valid token passes. The owner always passes. Anyone else
// passes only if the policy checker confirms a shared-access grant; checker
// errors deny.
func Authorize(ctx context.Context, ownerUserID, resourceName, userID string, checker Checker) Decision {
	if ownerUserID == "" {
		return Decision{Allowed: true, Reason: "open"}
	}
	if userID == ownerUserID {
		return Decision{Allowed: true, Reason: "owner"}
	}
	if resourceName != "" && checker != nil {
		shared, err := checker.IsSharedMember(ctx, resourceName, userID)
		if err != nil {
			slog.Warn("Shared access check failed, denying", "user_id", userID, "error", err)
			return Decision{Allowed: false, Reason: "denied"}
		}
		if shared {
			return Decision{Allowed: true, Reason: "shared"}
		}
	}
	return Decision{Allowed: false, Reason: "denied"}
}

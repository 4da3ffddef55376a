// Package push sends user notifications through the external push provider.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"

	"restaurant-orders/internal/config"
)

// ErrDisabled is returned by Send when no provider is configured.
var ErrDisabled = errors.New("push provider not configured")

// User types understood by the provider.
const (
	UserTypeCustomer   = "customer"
	UserTypeRestaurant = "restaurant"
)

// Notification is the provider request body.
type Notification struct {
	UserIDs  []string          `json:"userIds"`
	UserType string            `json:"userType"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}

type Client struct {
	http     *resty.Client
	maxTries uint
	backoff  func() backoff.BackOff
}

// NewClient builds a provider client. An empty base URL yields a client whose
// Send always returns ErrDisabled.
func NewClient(cfg config.PushConfig) *Client {
	c := &Client{
		maxTries: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	if cfg.BaseURL == "" {
		return c
	}

	c.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.http.SetAuthToken(cfg.APIKey)
	}
	return c
}

// Send delivers n, retrying transport errors and 5xx answers. A 4xx answer
// is permanent.
func (c *Client) Send(ctx context.Context, n Notification) error {
	if c.http == nil {
		return ErrDisabled
	}
	if len(n.UserIDs) == 0 {
		return nil
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(n).
			Post("/notifications")
		if err != nil {
			return struct{}{}, fmt.Errorf("push request failed: %w", err)
		}

		switch {
		case resp.StatusCode() >= http.StatusInternalServerError:
			return struct{}{}, fmt.Errorf("push provider returned %d: %s", resp.StatusCode(), string(resp.Body()))
		case resp.IsError():
			return struct{}{}, backoff.Permanent(
				fmt.Errorf("push provider rejected notification with %d: %s", resp.StatusCode(), string(resp.Body())))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

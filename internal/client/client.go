// Package client is a Go client for the checkout API, as a checkout page
// would drive it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/httputil"
	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/service"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ service.StatusReader = (*Client)(nil)

func (c *Client) RequestApproval(ctx context.Context, id string, meta model.CheckoutMeta) (*service.ApprovalResult, error) {
	var result service.ApprovalResult
	if err := c.do(ctx, http.MethodPost, c.sessionPath(id, "approval"), meta, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Status(ctx context.Context, id string) (*service.StatusResult, error) {
	var result service.StatusResult
	if err := c.do(ctx, http.MethodGet, c.sessionPath(id, "status"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SubmitCode(ctx context.Context, id, code string, amendment *model.CheckoutMeta) error {
	body := map[string]any{"code": code}
	if amendment != nil {
		body["amendment"] = amendment
	}
	return c.do(ctx, http.MethodPost, c.sessionPath(id, "code"), body, nil)
}

func (c *Client) IssueActivationCode(ctx context.Context, id, phone string) (*service.ActivationIssueResult, error) {
	var result service.ActivationIssueResult
	body := map[string]any{"phone": phone}
	if err := c.do(ctx, http.MethodPost, c.sessionPath(id, "activation"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) VerifyActivationCode(ctx context.Context, id, code string) (model.ActivationVerifyResult, error) {
	var result model.ActivationVerifyResult
	body := map[string]any{"code": code}
	if err := c.do(ctx, http.MethodPost, c.sessionPath(id, "activation/verify"), body, &result); err != nil {
		return model.ActivationVerifyResult{}, err
	}
	return result, nil
}

func (c *Client) Clear(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(id, ""), nil, nil)
}

func (c *Client) sessionPath(id, action string) string {
	p := c.baseURL + "/v1/checkout/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends body as JSON and decodes a 2xx response into out. Error
// responses come back as *apperrors.AppError with the server's code.
func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Code == "" {
			return apperrors.External("checkout api", fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return apperrors.New(errResp.Code, errResp.Error).WithDetails(errResp.Details)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client fetches raw blocks from a neardata-style block API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a block API client for the given base URL, e.g.
// "https://mainnet.neardata.xyz/v0". Per-request deadlines come from the
// caller's context.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Block fetches the block at the given height. A nil block with a nil error
// means the chain skipped that height.
func (c *Client) Block(ctx context.Context, height uint64) (*RawBlock, error) {
	return c.get(ctx, fmt.Sprintf("%s/block/%d", c.baseURL, height))
}

// FinalBlock fetches the current finalized head block.
func (c *Client) FinalBlock(ctx context.Context) (*RawBlock, error) {
	block, err := c.get(ctx, c.baseURL+"/last_block/final")
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("final block unavailable")
	}
	return block, nil
}

func (c *Client) get(ctx context.Context, url string) (*RawBlock, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	c.logger.Debug("block fetched",
		zap.String("url", url),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}

	var block RawBlock
	if err := json.Unmarshal(body, &block); err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return &block, nil
}

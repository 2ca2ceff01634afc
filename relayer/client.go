package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client talks to the relayer HTTP API.
type Client struct {
	http *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

func (c *Client) Info(ctx context.Context, endpoint string) (*CapabilityDocument, error) {
	var doc CapabilityDocument
	if err := c.getJSON(ctx, endpoint+"/api/v1/info", &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Leaves returns the relayer's view of a tree and the block it is complete
// up to.
func (c *Client) Leaves(ctx context.Context, endpoint string, chainID uint64, contract common.Address) ([]common.Hash, uint64, error) {
	url := fmt.Sprintf("%s/api/v1/leaves/%s/%s", endpoint, hexutil.EncodeUint64(chainID), strings.ToLower(contract.Hex()))
	var resp LeavesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, 0, err
	}
	leaves := make([]common.Hash, len(resp.Leaves))
	for i, l := range resp.Leaves {
		b, err := hexutil.Decode(l)
		if err != nil || len(b) > common.HashLength {
			return nil, 0, fmt.Errorf("leaf %d: invalid hash %q", i, l)
		}
		leaves[i] = common.BytesToHash(b)
	}
	block, err := hexutil.DecodeUint64(resp.LastQueriedBlock)
	if err != nil {
		return nil, 0, fmt.Errorf("lastQueriedBlock %q: %w", resp.LastQueriedBlock, err)
	}
	return leaves, block, nil
}

// IP returns the address the relayer sees requests coming from.
func (c *Client) IP(ctx context.Context, endpoint string) (string, error) {
	var ip string
	if err := c.getJSON(ctx, endpoint+"/api/v1/ip", &ip); err != nil {
		return "", err
	}
	return ip, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

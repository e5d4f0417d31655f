package tenderly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultAPIBase is the production Tenderly API host.
const DefaultAPIBase = "https://api.tenderly.co/api/v1"

// BaseChainID is the fork target for provisioned Virtual TestNets.
const BaseChainID = 8453

// adminRPCName is the declared name of the administrative endpoint inside a
// Virtual TestNet's RPC list. Only that endpoint accepts the tenderly_*
// balance-mutation methods.
const adminRPCName = "Admin RPC"

// RPCEndpoint is one endpoint exposed by a Virtual TestNet.
type RPCEndpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// VirtualTestNet represents a Tenderly Virtual TestNet resource.
type VirtualTestNet struct {
	ID   string        `json:"id"`
	Slug string        `json:"slug"`
	RPCs []RPCEndpoint `json:"rpcs"`
}

// AdminRPC returns the URL of the testnet's administrative endpoint.
func (v *VirtualTestNet) AdminRPC() (string, error) {
	for _, rpc := range v.RPCs {
		if rpc.Name == adminRPCName {
			return rpc.URL, nil
		}
	}
	return "", fmt.Errorf("vnet %s has no %q endpoint", v.Slug, adminRPCName)
}

// Client is an authenticated Tenderly REST client scoped to one project.
type Client struct {
	baseURL     string
	accountName string
	projectName string
	accessKey   string
	http        *http.Client
}

func NewClient(baseURL, accountName, projectName, accessKey string) *Client {
	return &Client{
		baseURL:     baseURL,
		accountName: accountName,
		projectName: projectName,
		accessKey:   accessKey,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	url := fmt.Sprintf("%s/account/%s/project/%s%s", c.baseURL, c.accountName, c.projectName, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Access-Key", c.accessKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// ListVirtualTestnets returns the project's Virtual TestNets in provider order.
func (c *Client) ListVirtualTestnets(ctx context.Context) ([]VirtualTestNet, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vnets", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tenderly ListVirtualTestnets: status %d", resp.StatusCode)
	}
	var list []VirtualTestNet
	return list, json.NewDecoder(resp.Body).Decode(&list)
}

type createRequest struct {
	Slug                 string               `json:"slug"`
	ForkConfig           forkConfig           `json:"fork_config"`
	VirtualNetworkConfig virtualNetworkConfig `json:"virtual_network_config"`
	SyncStateConfig      syncStateConfig      `json:"sync_state_config"`
}

type forkConfig struct {
	NetworkID int `json:"network_id"`
}

type virtualNetworkConfig struct {
	ChainConfig chainConfig `json:"chain_config"`
}

type chainConfig struct {
	ChainID int `json:"chain_id"`
}

type syncStateConfig struct {
	Enabled bool `json:"enabled"`
}

// CreateVirtualTestnet provisions a new Virtual TestNet forked from Base,
// with state sync disabled.
func (c *Client) CreateVirtualTestnet(ctx context.Context, slug string) (*VirtualTestNet, error) {
	body := createRequest{
		Slug:                 slug,
		ForkConfig:           forkConfig{NetworkID: BaseChainID},
		VirtualNetworkConfig: virtualNetworkConfig{ChainConfig: chainConfig{ChainID: BaseChainID}},
		SyncStateConfig:      syncStateConfig{Enabled: false},
	}

	resp, err := c.do(ctx, http.MethodPost, "/vnets", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tenderly CreateVirtualTestnet %s: status %d", slug, resp.StatusCode)
	}
	var vnet VirtualTestNet
	return &vnet, json.NewDecoder(resp.Body).Decode(&vnet)
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

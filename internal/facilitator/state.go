// Package facilitator contains the request-routing core: process-wide state,
// endpoint resolution, sandbox provisioning, balance assurance, and the
// verify/settle dispatcher.
package facilitator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/localx402/facilitator/internal/config"
	"github.com/localx402/facilitator/internal/tenderly"
)

// VNetAPI is the sandbox-vendor surface the provisioner consumes.
// *tenderly.Client satisfies it; tests substitute mocks.
type VNetAPI interface {
	ListVirtualTestnets(ctx context.Context) ([]tenderly.VirtualTestNet, error)
	CreateVirtualTestnet(ctx context.Context, slug string) (*tenderly.VirtualTestNet, error)
}

// State is the process-wide facilitator state. It is constructed once in main
// and injected into the dispatcher; the cached sandbox endpoint is its only
// field that mutates after construction, written exactly once per successful
// provisioning under single-flight discipline.
type State struct {
	mode        config.Mode
	fixedRPC    string
	privKey     string
	address     common.Address
	testAddr    common.Address
	haveTest    bool
	vnets       VNetAPI
	log         *zap.Logger
	initialized bool

	mu              sync.RWMutex
	sandboxEndpoint string
	sf              singleflight.Group
}

// NewState derives the facilitator identity from configuration and wires the
// vendor client. The config is assumed validated by config.Load.
func NewState(cfg *config.Config, vnets VNetAPI, log *zap.Logger) (*State, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Facilitator.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse facilitator private key: %w", err)
	}

	s := &State{
		mode:        cfg.Mode,
		fixedRPC:    cfg.Tenderly.RPC,
		privKey:     cfg.Facilitator.PrivateKey,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		vnets:       vnets,
		log:         log,
		initialized: true,
	}

	if cfg.Facilitator.TestWalletKey != "" {
		tk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Facilitator.TestWalletKey, "0x"))
		if err != nil {
			return nil, err
		}
		s.testAddr = crypto.PubkeyToAddress(tk.PublicKey)
		s.haveTest = true
	}
	return s, nil
}

func (s *State) check() error {
	if s == nil || !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Mode returns the endpoint mode resolved at startup.
func (s *State) Mode() config.Mode { return s.mode }

// FixedRPC returns the operator-configured endpoint, or "".
func (s *State) FixedRPC() string { return s.fixedRPC }

// Address returns the facilitator's operating address.
func (s *State) Address() common.Address { return s.address }

// PrivateKeyHex returns the facilitator's signing material.
func (s *State) PrivateKeyHex() string { return s.privKey }

// TestWallet returns the optional test account address.
func (s *State) TestWallet() (common.Address, bool) { return s.testAddr, s.haveTest }

// SandboxEndpoint returns the cached Virtual TestNet admin endpoint, lazily
// provisioning one on first use. Concurrent first callers share a single
// vendor list/create sequence and observe the same outcome; a failure is
// returned to all of them without being cached, so the next request retries.
func (s *State) SandboxEndpoint(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}

	s.mu.RLock()
	cached := s.sandboxEndpoint
	s.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	v, err, _ := s.sf.Do("sandbox", func() (any, error) {
		// Re-check under the flight: a previous flight may have resolved
		// between our read and Do.
		s.mu.RLock()
		cached := s.sandboxEndpoint
		s.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}

		endpoint, err := s.provision(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.sandboxEndpoint = endpoint
		s.mu.Unlock()
		return endpoint, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// provision runs the vendor list/create sequence and extracts the admin
// endpoint. Selection policy: the first testnet in provider order wins.
func (s *State) provision(ctx context.Context) (string, error) {
	vnets, err := s.vnets.ListVirtualTestnets(ctx)
	if err != nil {
		return "", &ProvisioningError{Op: "list", Err: err}
	}

	var vnet *tenderly.VirtualTestNet
	if len(vnets) > 0 {
		vnet = &vnets[0]
		s.log.Info("loaded existing virtual testnet", zap.String("slug", vnet.Slug))
	} else {
		created, err := s.vnets.CreateVirtualTestnet(ctx, uuid.NewString())
		if err != nil {
			return "", &ProvisioningError{Op: "create", Err: err}
		}
		vnet = created
		s.log.Info("created virtual testnet", zap.String("slug", vnet.Slug))
	}

	endpoint, err := vnet.AdminRPC()
	if err != nil {
		return "", &ProvisioningError{Op: "select", Err: err}
	}
	return endpoint, nil
}

// CachedSandboxEndpoint returns the endpoint without provisioning ("" if the
// lazy resolution has not happened yet).
func (s *State) CachedSandboxEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sandboxEndpoint
}

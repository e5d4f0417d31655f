// cmd/vnet is an operator tool for the facilitator's Tenderly Virtual
// TestNets: list the project's networks, or provision a fresh one and
// optionally seed an account with native balance through the admin RPC.
//
// Usage:
//
//	TENDERLY_ACCESS_KEY=<key> \
//	go run ./cmd/vnet/ \
//	  --account  my-account \
//	  --project  my-project \
//	  --create \
//	  --fund 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/localx402/facilitator/internal/chain"
	"github.com/localx402/facilitator/internal/facilitator"
	"github.com/localx402/facilitator/internal/tenderly"
)

func main() {
	account := flag.String("account", os.Getenv("TENDERLY_ACCOUNT_NAME"), "Tenderly account name")
	project := flag.String("project", os.Getenv("TENDERLY_PROJECT_NAME"), "Tenderly project name")
	create := flag.Bool("create", false, "provision a new Virtual TestNet instead of listing")
	fundHex := flag.String("fund", "", "after create, credit this address with the facilitator's native floor")
	flag.Parse()

	accessKey := os.Getenv("TENDERLY_ACCESS_KEY")
	if accessKey == "" {
		fmt.Fprintln(os.Stderr, "error: TENDERLY_ACCESS_KEY not set")
		os.Exit(1)
	}
	if *account == "" || *project == "" {
		fmt.Fprintln(os.Stderr, "error: --account and --project are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := tenderly.NewClient(tenderly.DefaultAPIBase, *account, *project, accessKey)

	if !*create {
		list(ctx, client)
		return
	}

	slug := uuid.NewString()
	fmt.Printf("provisioning %s (fork of chain %d)...\n", slug, tenderly.BaseChainID)
	vnet, err := client.CreateVirtualTestnet(ctx, slug)
	if err != nil {
		fatalf("create: %v", err)
	}
	admin, err := vnet.AdminRPC()
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("  id:        %s\n", vnet.ID)
	fmt.Printf("  admin rpc: %s\n", admin)

	if *fundHex == "" {
		return
	}

	addr := common.HexToAddress(*fundHex)
	fmt.Printf("funding %s with %d ETH...\n", addr.Hex(), facilitator.MinNativeBalance)
	cc, err := chain.NewClient(ctx, admin)
	if err != nil {
		fatalf("dial admin rpc: %v", err)
	}
	defer cc.Close()

	wei := new(big.Int).Mul(big.NewInt(facilitator.MinNativeBalance),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if err := cc.AddNativeBalance(ctx, addr, wei); err != nil {
		fatalf("fund: %v", err)
	}
	fmt.Println("  confirmed ✓")
}

func list(ctx context.Context, client *tenderly.Client) {
	vnets, err := client.ListVirtualTestnets(ctx)
	if err != nil {
		fatalf("list: %v", err)
	}
	if len(vnets) == 0 {
		fmt.Println("no Virtual TestNets in project")
		return
	}
	for _, v := range vnets {
		admin, err := v.AdminRPC()
		if err != nil {
			admin = "(no admin rpc)"
		}
		fmt.Printf("%-38s %s\n", v.Slug, admin)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

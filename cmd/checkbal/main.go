// cmd/checkbal prints the native and USDC balances of an address at an RPC
// endpoint. Handy for eyeballing a Virtual TestNet after funding.
//
//	go run ./cmd/checkbal --rpc <url> --address 0x...
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/localx402/facilitator/internal/chain"
	"github.com/localx402/facilitator/internal/facilitator"
)

func main() {
	rpc := flag.String("rpc", "", "RPC endpoint")
	addrHex := flag.String("address", "", "account to inspect")
	flag.Parse()

	if *rpc == "" || *addrHex == "" {
		fmt.Fprintln(os.Stderr, "usage: checkbal --rpc <url> --address 0x...")
		os.Exit(1)
	}

	ctx := context.Background()
	c, err := chain.NewClient(ctx, *rpc)
	if err != nil {
		fatalf("%v", err)
	}
	defer c.Close()

	addr := common.HexToAddress(*addrHex)
	native, err := c.NativeBalance(ctx, addr)
	if err != nil {
		fatalf("native balance: %v", err)
	}
	fmt.Printf("native:  %s wei (%s ETH)\n", native, toUnit(native, 18))

	usdc, err := c.TokenBalance(ctx, facilitator.USDCAddress, addr)
	if err != nil {
		fatalf("usdc balance: %v", err)
	}
	dec, err := c.TokenDecimals(ctx, facilitator.USDCAddress)
	if err != nil {
		fatalf("usdc decimals: %v", err)
	}
	fmt.Printf("usdc:    %s units (%s USDC)\n", usdc, toUnit(usdc, int(dec)))
}

func toUnit(atomic *big.Int, decimals int) string {
	f := new(big.Float).SetInt(atomic)
	unit := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return new(big.Float).Quo(f, unit).Text('f', 4)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

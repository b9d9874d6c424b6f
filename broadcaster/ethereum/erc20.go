package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/treasury-vault/interfaces"
)

// tokenABI covers the calls the treasury issues against its token contract.
const tokenABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"burn","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var parsedTokenABI = mustParseABI(tokenABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// callData encodes the token call for an operation. Transfers, airdrops and jackpot releases
// are plain ERC-20 transfers.
func callData(op interfaces.Operation, destination string, amount *big.Int) ([]byte, error) {
	switch op {
	case interfaces.OpBurn:
		return parsedTokenABI.Pack("burn", amount)
	case interfaces.OpMint:
		to, err := parseAddress(destination)
		if err != nil {
			return nil, err
		}
		return parsedTokenABI.Pack("mint", to, amount)
	case interfaces.OpTransfer, interfaces.OpAirdrop, interfaces.OpRelease:
		to, err := parseAddress(destination)
		if err != nil {
			return nil, err
		}
		return parsedTokenABI.Pack("transfer", to, amount)
	default:
		return nil, fmt.Errorf("%w: unsupported operation %q", interfaces.ErrInvalidRequest, op)
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid destination address %q", interfaces.ErrInvalidRequest, s)
	}
	return common.HexToAddress(s), nil
}

// baseUnits scales a whole-token amount by the token decimals.
func baseUnits(amount int64, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(big.NewInt(amount), scale)
}

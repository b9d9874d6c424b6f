// Package ethereum submits treasury transfers as signed ERC-20 calls to an Ethereum node.
//
// The signing key is the credential handed over by the transfer authority. It is parsed for
// the duration of one Submit and zeroed afterwards. The hash of every signed transaction is
// remembered under its request id before it is sent, so that Probe can later tell whether a
// submission that timed out was mined.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/treasury-vault/interfaces"
)

// ChainBackend is the part of an Ethereum client the broadcaster uses.
// *ethclient.Client and the simulated backend client satisfy it.
type ChainBackend interface {
	ethereum.PendingStateReader
	ethereum.GasPricer
	ethereum.GasEstimator
	ethereum.TransactionSender
	ethereum.TransactionReader
}

// Config describes the token contract transfers are issued against.
type Config struct {
	Token    common.Address
	ChainID  *big.Int
	Decimals uint8
	// GasLimit is used as is when set; otherwise gas is estimated per call.
	GasLimit uint64
}

// Broadcaster implements interfaces.Broadcaster and interfaces.OutcomeProber.
type Broadcaster struct {
	client ChainBackend
	cfg    Config
	signer types.Signer
	log    *slog.Logger

	// nonceLocks serialises nonce assignment per sending address.
	nonceLocks sync.Map

	mu      sync.Mutex
	pending map[string]common.Hash
}

// NewBroadcaster creates a broadcaster for the token in cfg.
func NewBroadcaster(client ChainBackend, cfg Config, log *slog.Logger) (*Broadcaster, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("ethereum: chain id is required")
	}
	if cfg.Token == (common.Address{}) {
		return nil, errors.New("ethereum: token address is required")
	}

	return &Broadcaster{
		client:  client,
		cfg:     cfg,
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		log:     log,
		pending: make(map[string]common.Hash),
	}, nil
}

// Submit signs the token call for req and sends it. The returned reference is the transaction hash.
// Failures before the transaction is sent are reported as known failures. A send error is a known
// failure only when the node answered with a JSON-RPC error; a transport error leaves the outcome
// unknown since the node may have accepted the transaction.
func (b *Broadcaster) Submit(ctx context.Context, req interfaces.SubmitRequest) (string, error) {
	key, err := parseKey(req.Secret)
	if err != nil {
		return "", interfaces.NewBroadcasterError(interfaces.BroadcastFailed, err)
	}
	defer wipeKey(key)

	data, err := callData(req.Operation, req.Destination, baseUnits(req.Amount, b.cfg.Decimals))
	if err != nil {
		return "", interfaces.NewBroadcasterError(interfaces.BroadcastFailed, err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	mu, _ := b.nonceLocks.LoadOrStore(from, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	tx, err := b.buildTx(ctx, from, data)
	if err != nil {
		return "", interfaces.NewBroadcasterError(interfaces.BroadcastFailed, err)
	}

	signed, err := types.SignTx(tx, b.signer, key)
	if err != nil {
		return "", interfaces.NewBroadcasterError(interfaces.BroadcastFailed, fmt.Errorf("failed to sign transaction: %w", err))
	}

	b.remember(req.RequestID, signed.Hash())

	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return "", interfaces.NewBroadcasterError(sendOutcome(ctx, err), fmt.Errorf("failed to send transaction: %w", err))
	}

	b.log.Info("Token transaction sent",
		slog.String("requestId", req.RequestID),
		slog.String("operation", req.Operation.String()),
		slog.String("from", from.Hex()),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", signed.Nonce()))
	return signed.Hash().Hex(), nil
}

// sendOutcome classifies a SendTransaction error. Only an error reply from the node, such as
// nonce too low or insufficient funds, proves the transaction was rejected.
func sendOutcome(ctx context.Context, err error) interfaces.BroadcastOutcome {
	if ctx.Err() != nil {
		return interfaces.BroadcastUnknown
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return interfaces.BroadcastUnknown
	}
	// The node already holds a transaction with this hash.
	if strings.Contains(strings.ToLower(rpcErr.Error()), "already known") {
		return interfaces.BroadcastUnknown
	}
	return interfaces.BroadcastFailed
}

func (b *Broadcaster) buildTx(ctx context.Context, from common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	gasLimit := b.cfg.GasLimit
	if gasLimit == 0 {
		token := b.cfg.Token
		gasLimit, err = b.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &token, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &b.cfg.Token,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

// Probe reports whether the transaction of requestID was mined. A request that was never
// signed is known not to be committed; a transaction without receipt, or one the node has not
// indexed yet, is still undecided.
func (b *Broadcaster) Probe(ctx context.Context, requestID string) (bool, bool, error) {
	b.mu.Lock()
	hash, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return false, true, nil
	}

	receipt, err := b.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || isIndexing(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to fetch receipt of %s: %w", hash.Hex(), err)
	}
	return receipt.Status == types.ReceiptStatusSuccessful, true, nil
}

// isIndexing reports the error a node returns for receipt lookups while its transaction
// index is still catching up.
func isIndexing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "transaction indexing is in progress")
}

// TxHash returns the hash recorded for requestID.
func (b *Broadcaster) TxHash(requestID string) (common.Hash, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hash, ok := b.pending[requestID]
	return hash, ok
}

func (b *Broadcaster) remember(requestID string, hash common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[requestID] = hash
}

// parseKey accepts a raw 32-byte key or its hex encoding with optional 0x prefix.
func parseKey(secret []byte) (*ecdsa.PrivateKey, error) {
	if len(secret) == 32 {
		return crypto.ToECDSA(secret)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(string(secret)), "0x"))
	if err != nil {
		return nil, errors.New("credential is not a valid secp256k1 private key")
	}
	return key, nil
}

func wipeKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}

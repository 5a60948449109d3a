package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/ports"
)

// EVMConfig configures the EVM memo ledger.
type EVMConfig struct {
	RPCURL      string
	PrivateKey  string
	WaitTimeout time.Duration
}

// ChainClient is the node surface the ledger needs. *ethclient.Client and
// the simulated backend's client both satisfy it.
type ChainClient interface {
	bind.DeployBackend
	ethereum.ChainReader
	ethereum.GasEstimator
	ethereum.GasPricer1559
	ethereum.PendingStateReader
	ethereum.TransactionReader
	ethereum.TransactionSender
}

// EVM anchors memos as the calldata of a zero-value self-transfer and reads
// them back from the chain.
type EVM struct {
	client  ChainClient
	closeFn func()
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	wait    time.Duration
}

// NewEVM builds a ledger over an already connected client.
func NewEVM(client ChainClient, key *ecdsa.PrivateKey, chainID *big.Int, wait time.Duration) *EVM {
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	return &EVM{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		wait:    wait,
	}
}

// DialEVM connects to the RPC endpoint and loads the signing key.
func DialEVM(ctx context.Context, cfg EVMConfig) (*EVM, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("ledger: rpc url is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse private key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger: chain id: %w", err)
	}
	e := NewEVM(client, key, chainID, cfg.WaitTimeout)
	e.closeFn = client.Close
	logging.With("ledger").WithFields(logging.Fields{"chain_id": chainID.String(), "address": e.from.Hex()}).Info("evm ledger ready")
	return e, nil
}

// Close releases the RPC connection opened by DialEVM.
func (e *EVM) Close() {
	if e != nil && e.closeFn != nil {
		e.closeFn()
	}
}

// SubmitMemo signs and broadcasts the memo transaction and waits for it to be mined.
func (e *EVM) SubmitMemo(ctx context.Context, memo string) (ports.Receipt, error) {
	if e == nil || e.client == nil {
		return ports.Receipt{}, fmt.Errorf("ledger: evm client is nil")
	}
	data := []byte(memo)

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: nonce: %w", err)
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: gas tip: %w", err)
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: head: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	to := e.from
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data})
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: sign: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: send: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.wait)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, e.client, signed)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("ledger: wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ports.Receipt{}, fmt.Errorf("ledger: tx %s reverted", signed.Hash().Hex())
	}
	return ports.Receipt{TxID: signed.Hash().Hex(), Block: receipt.BlockNumber.Uint64()}, nil
}

// GetTransaction reads a memo transaction and the timestamp of its block.
func (e *EVM) GetTransaction(ctx context.Context, txID string) (ports.LedgerTx, error) {
	if e == nil || e.client == nil {
		return ports.LedgerTx{}, fmt.Errorf("ledger: evm client is nil")
	}
	hash := common.HexToHash(txID)
	tx, pending, err := e.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return ports.LedgerTx{}, fmt.Errorf("ledger: tx %s: %w", txID, ports.ErrNotFound)
	}
	if err != nil {
		return ports.LedgerTx{}, fmt.Errorf("ledger: tx %s: %w", txID, err)
	}
	out := ports.LedgerTx{TxID: hash.Hex(), Memo: string(tx.Data())}
	if pending {
		return out, nil
	}
	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return ports.LedgerTx{}, fmt.Errorf("ledger: receipt %s: %w", txID, err)
	}
	out.Block = receipt.BlockNumber.Uint64()
	header, err := e.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return ports.LedgerTx{}, fmt.Errorf("ledger: header %d: %w", out.Block, err)
	}
	out.Timestamp = time.Unix(int64(header.Time), 0).UTC()
	return out, nil
}

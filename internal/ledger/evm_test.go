package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/ports"
)

func newSimulatedEVM(t *testing.T) (*EVM, *simulated.Backend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	balance := new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000))
	backend := simulated.NewBackend(types.GenesisAlloc{from: {Balance: balance}})
	t.Cleanup(func() { backend.Close() })

	client := backend.Client()
	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)
	return NewEVM(client, key, chainID, 20*time.Second), backend
}

// mine commits blocks until stop is closed so WaitMined can observe receipts.
func mine(backend *simulated.Backend, stop <-chan struct{}) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			backend.Commit()
		}
	}
}

func TestEVMSubmitAndReadBack(t *testing.T) {
	e, backend := newSimulatedEVM(t)
	ctx := context.Background()

	stop := make(chan struct{})
	go mine(backend, stop)
	memo := `DARWIN:REVEAL:sig-1:{"signalId":"sig-1","darwinEstimate":0.7234}`
	receipt, err := e.SubmitMemo(ctx, memo)
	close(stop)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxID)
	assert.Positive(t, receipt.Block)

	tx, err := e.GetTransaction(ctx, receipt.TxID)
	require.NoError(t, err)
	assert.Equal(t, memo, tx.Memo)
	assert.Equal(t, receipt.Block, tx.Block)
	assert.False(t, tx.Timestamp.IsZero())
}

func TestEVMUnknownTransaction(t *testing.T) {
	e, _ := newSimulatedEVM(t)
	_, err := e.GetTransaction(context.Background(), common.HexToHash("0x01").Hex())
	assert.True(t, errors.Is(err, ports.ErrNotFound), err)
}

func TestDialEVMValidatesConfig(t *testing.T) {
	_, err := DialEVM(context.Background(), EVMConfig{})
	assert.Error(t, err)
	_, err = DialEVM(context.Background(), EVMConfig{RPCURL: "http://127.0.0.1:1", PrivateKey: "not-hex"})
	assert.Error(t, err)
}

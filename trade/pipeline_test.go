package trade

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/razedotbot/solana-ui-sub003/wallet"
)

func makeTxs(n int) Bundle {
	out := make(Bundle, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestSplitBundleRespectsMaxPerBundle(t *testing.T) {
	subs := splitBundle(makeTxs(5), 2, 10)
	require.Len(t, subs, 3)
	require.Len(t, subs[0], 2)
	require.Len(t, subs[1], 2)
	require.Len(t, subs[2], 1)
}

func TestSplitBundleGrowsChunksToHoldFanOutCap(t *testing.T) {
	// 10 transactions at 2 per bundle would need 5 sub-bundles; with a cap
	// of 4 the chunk size grows to 3 instead.
	subs := splitBundle(makeTxs(10), 2, 4)
	require.Len(t, subs, 4)
	require.Len(t, subs[0], 3)
	require.Len(t, subs[1], 3)
	require.Len(t, subs[2], 3)
	require.Len(t, subs[3], 1)
}

func TestSplitBundlePreservesOrder(t *testing.T) {
	txs := makeTxs(7)
	var flat Bundle
	for _, sub := range splitBundle(txs, 3, 4) {
		flat = append(flat, sub...)
	}
	require.Equal(t, txs, flat)
}

func TestSplitBundleEmpty(t *testing.T) {
	require.Nil(t, splitBundle(nil, 5, 4))
}

func TestChunkWalletsStableOrder(t *testing.T) {
	wallets := makeWallets(5)
	chunks := chunkWallets(wallets, 2)
	require.Len(t, chunks, 3)
	require.Equal(t, wallets[0].Address, chunks[0][0].Address)
	require.Equal(t, wallets[4].Address, chunks[2][0].Address)
}

func TestSignBundleRejectsMalformedPayload(t *testing.T) {
	keyring := wallet.Keyring([]wallet.Wallet{wallet.Generate()})

	_, _, err := signBundle(Bundle{"not base64 %%%"}, keyring)
	var stage *StageError
	require.ErrorAs(t, err, &stage)
	require.Equal(t, StageSign, stage.Stage)

	// Valid base64 that is not a transaction still fails at the sign stage.
	_, _, err = signBundle(Bundle{base64.StdEncoding.EncodeToString([]byte("junk"))}, keyring)
	require.ErrorAs(t, err, &stage)
	require.Equal(t, StageSign, stage.Stage)
}

func TestStageErrorUnwraps(t *testing.T) {
	sentinel := errors.New("relay down")
	err := stageErr(StageSend, sentinel)
	require.ErrorIs(t, err, sentinel)
	require.Contains(t, err.Error(), "send")
}

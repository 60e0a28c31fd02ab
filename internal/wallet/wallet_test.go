package wallet

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeWalletConnection(t *testing.T) {
	w := NewFakeWallet("")
	require.False(t, w.IsConnected())
	_, ok := w.Current()
	require.False(t, ok)

	w.PromptConnect()
	w.PromptConnect()
	require.Equal(t, 2, w.Prompts())

	w.Connect("bc1qbuyer")
	acct, ok := w.Current()
	require.True(t, ok)
	require.Equal(t, "bc1qbuyer", acct.Address)

	w.Disconnect()
	require.False(t, w.IsConnected())
}

func TestFakeWalletSignAndBroadcast(t *testing.T) {
	ctx := context.Background()
	w := NewFakeWallet("bc1qbuyer")
	acct, _ := w.Current()

	res, err := w.SignPSBT(ctx, acct, "70736274ff01", []int{}, true)
	require.NoError(t, err)
	require.True(t, res.Signed)
	require.Equal(t, "70736274ff01", res.PSBT)

	txid, err := w.BroadcastPSBT(ctx, res.PSBT)
	require.NoError(t, err)
	require.Len(t, txid, 64)

	again, err := w.BroadcastPSBT(ctx, res.PSBT)
	require.NoError(t, err)
	assert.Equal(t, txid, again)

	normalized, err := NormalizeTxID(txid)
	require.NoError(t, err)
	assert.Equal(t, txid, normalized)
}

func TestFakeWalletRejectsBadPSBT(t *testing.T) {
	w := NewFakeWallet("bc1qbuyer")
	acct, _ := w.Current()

	res, err := w.SignPSBT(context.Background(), acct, "not-hex", nil, true)
	require.NoError(t, err)
	assert.False(t, res.Signed)
	assert.NotEmpty(t, res.Error)

	w.Disconnect()
	res, err = w.SignPSBT(context.Background(), acct, "00", nil, true)
	require.NoError(t, err)
	assert.Equal(t, ErrNotConnected.Error(), res.Error)
}

func TestNormalizeTxID(t *testing.T) {
	upper := strings.Repeat("AB", 32)
	got, err := NormalizeTxID(upper)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 32), got)

	_, err = NormalizeTxID("abcd")
	assert.Error(t, err)

	_, err = NormalizeTxID(strings.Repeat("zz", 32))
	assert.Error(t, err)
}

package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrNotConnected is returned by wallets asked to act without a connected
// account.
var ErrNotConnected = errors.New("wallet not connected")

// Account is the connected wallet identity.
type Account struct {
	Address  string `json:"address"`
	Provider string `json:"provider,omitempty"`
}

// SignResult reports how an interactive signing request ended. Exactly one of
// Signed or Cancelled is set on a clean outcome; otherwise Error carries the
// wallet's own description of the failure.
type SignResult struct {
	Signed    bool
	PSBT      string
	Cancelled bool
	Error     string
}

// Wallet abstracts the buyer's wallet provider.
type Wallet interface {
	IsConnected() bool
	Current() (Account, bool)
	// SignPSBT asks the user to sign psbtHex. A non-nil error means the
	// request never reached the user; refusals are reported in SignResult.
	SignPSBT(ctx context.Context, acct Account, psbtHex string, inputsToSign []int, enableRBF bool) (SignResult, error)
	BroadcastPSBT(ctx context.Context, signedHex string) (string, error)
	// PromptConnect asks the user to connect a wallet.
	PromptConnect()
}

// NormalizeTxID checks that txid is a 32 byte hex transaction hash and
// returns it in canonical form.
func NormalizeTxID(txid string) (string, error) {
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", fmt.Errorf("invalid txid %q: %w", txid, err)
	}
	if len(txid) != chainhash.MaxHashStringSize {
		return "", fmt.Errorf("invalid txid %q: want %d hex characters", txid, chainhash.MaxHashStringSize)
	}
	return h.String(), nil
}

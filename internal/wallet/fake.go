package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// FakeWallet approves every signing request and derives deterministic txids
// from the payload. It stands in for a browser wallet in local development.
type FakeWallet struct {
	mu        sync.Mutex
	account   Account
	connected bool
	prompts   int
}

// NewFakeWallet returns a wallet connected to address, or a disconnected one
// when address is empty.
func NewFakeWallet(address string) *FakeWallet {
	w := &FakeWallet{}
	if address != "" {
		w.Connect(address)
	}
	return w
}

func (w *FakeWallet) Connect(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.account = Account{Address: address, Provider: "fake"}
	w.connected = true
}

func (w *FakeWallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.account = Account{}
	w.connected = false
}

func (w *FakeWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *FakeWallet) Current() (Account, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account, w.connected
}

// Prompts counts PromptConnect calls.
func (w *FakeWallet) Prompts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prompts
}

func (w *FakeWallet) PromptConnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prompts++
}

func (w *FakeWallet) SignPSBT(_ context.Context, acct Account, psbtHex string, _ []int, _ bool) (SignResult, error) {
	if !w.IsConnected() {
		return SignResult{Error: ErrNotConnected.Error()}, nil
	}
	if acct.Address == "" {
		return SignResult{Error: "missing signer address"}, nil
	}
	if _, err := hex.DecodeString(psbtHex); err != nil || psbtHex == "" {
		return SignResult{Error: "psbt is not valid hex"}, nil
	}
	return SignResult{Signed: true, PSBT: psbtHex}, nil
}

func (w *FakeWallet) BroadcastPSBT(_ context.Context, signedHex string) (string, error) {
	raw, err := hex.DecodeString(signedHex)
	if err != nil {
		return "", fmt.Errorf("decode signed psbt: %w", err)
	}
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return hex.EncodeToString(second[:]), nil
}

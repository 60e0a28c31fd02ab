package dispense

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// psbtMagic is the "psbt\xff" prefix every serialized PSBT starts with.
const psbtMagic = "70736274ff"

// FakeClient hashes the request into a deterministic PSBT-shaped hex string.
type FakeClient struct{}

func (FakeClient) CreateDispense(_ context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		return Response{}, &APIError{StatusCode: 400, Message: err.Error()}
	}
	sum := sha256.Sum256([]byte(req.Address + req.DispenserSource +
		strconv.FormatInt(req.Quantity, 10) + strconv.FormatInt(req.FeeRate, 10)))
	return Response{PSBT: psbtMagic + hex.EncodeToString(sum[:])}, nil
}

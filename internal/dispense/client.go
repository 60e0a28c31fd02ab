package dispense

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a success response that carried no PSBT.
var ErrMalformedResponse = errors.New("dispense response missing psbt")

// Client abstracts the backend that builds unsigned dispense transactions.
type Client interface {
	CreateDispense(ctx context.Context, req Request) (Response, error)
}

// Request describes one purchase from a dispenser.
type Request struct {
	Address         string
	DispenserSource string
	// Quantity is the total payment in satoshis, not the unit count.
	Quantity int64
	FeeRate  int64
}

type Response struct {
	PSBT string
}

// APIError is a non-2xx reply from the backend. Message holds the backend's
// own error text and may be empty.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dispense api status %d", e.StatusCode)
	}
	return fmt.Sprintf("dispense api status %d: %s", e.StatusCode, e.Message)
}

func validateRequest(req Request) error {
	if req.Address == "" {
		return errors.New("address is required")
	}
	if req.DispenserSource == "" {
		return errors.New("dispenser source is required")
	}
	if req.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

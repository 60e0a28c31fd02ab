package dispense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const createDispensePath = "/api/v2/create/dispense"

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// HTTPClient talks to the backend's REST API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type createDispenseOptions struct {
	ReturnPSBT bool  `json:"return_psbt"`
	FeePerKB   int64 `json:"fee_per_kb"`
}

type createDispenseBody struct {
	Address         string                `json:"address"`
	DispenserSource string                `json:"dispenser_source"`
	Quantity        int64                 `json:"quantity"`
	Options         createDispenseOptions `json:"options"`
}

type createDispenseReply struct {
	Result *struct {
		PSBT string `json:"psbt"`
	} `json:"result"`
}

type errorReply struct {
	Error string `json:"error"`
}

// CreateDispense asks the backend for an unsigned PSBT paying the dispenser.
func (c *HTTPClient) CreateDispense(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		return Response{}, err
	}

	body := createDispenseBody{
		Address:         req.Address,
		DispenserSource: req.DispenserSource,
		Quantity:        req.Quantity,
		Options: createDispenseOptions{
			ReturnPSBT: true,
			FeePerKB:   req.FeeRate,
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal dispense request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createDispensePath, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send dispense request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var reply errorReply
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&reply); err == nil {
			apiErr.Message = reply.Error
		}
		return Response{}, apiErr
	}

	var reply createDispenseReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Response{}, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	if reply.Result == nil || reply.Result.PSBT == "" {
		return Response{}, ErrMalformedResponse
	}
	return Response{PSBT: reply.Result.PSBT}, nil
}

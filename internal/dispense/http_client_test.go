package dispense

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", time.Second)
}

func validRequest() Request {
	return Request{
		Address:         "bc1qbuyer",
		DispenserSource: "bc1qdispenser",
		Quantity:        1500,
		FeeRate:         12,
	}
}

func TestCreateDispenseWireShape(t *testing.T) {
	var got map[string]any
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/create/dispense", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"result":{"psbt":"70736274ff00"}}`))
	})

	resp, err := client.CreateDispense(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "70736274ff00", resp.PSBT)

	assert.Equal(t, "bc1qbuyer", got["address"])
	assert.Equal(t, "bc1qdispenser", got["dispenser_source"])
	assert.EqualValues(t, 1500, got["quantity"])
	opts, ok := got["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, opts["return_psbt"])
	assert.EqualValues(t, 12, opts["fee_per_kb"])
}

func TestCreateDispenseAPIError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient funds"}`))
	})

	_, err := client.CreateDispense(context.Background(), validRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "insufficient funds", apiErr.Message)
}

func TestCreateDispenseAPIErrorWithoutMessage(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := client.CreateDispense(context.Background(), validRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Empty(t, apiErr.Message)
	assert.Contains(t, apiErr.Error(), "502")
}

func TestCreateDispenseMalformed(t *testing.T) {
	bodies := map[string]string{
		"no result":  `{}`,
		"empty psbt": `{"result":{"psbt":""}}`,
		"not json":   `<html>`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := client.CreateDispense(context.Background(), validRequest())
			assert.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestCreateDispenseValidatesBeforeSending(t *testing.T) {
	called := false
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := validRequest()
	req.Address = ""
	_, err := client.CreateDispense(context.Background(), req)
	require.Error(t, err)
	assert.False(t, called)
}

func TestFakeClientIsDeterministic(t *testing.T) {
	a, err := FakeClient{}.CreateDispense(context.Background(), validRequest())
	require.NoError(t, err)
	b, err := FakeClient{}.CreateDispense(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a.PSBT, psbtMagic))

	_, err = FakeClient{}.CreateDispense(context.Background(), Request{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}

package walletclient

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/swapsuite/swap-dealer-server/walletjson"
)

const defaultRequestTimeout = time.Second * 5

// rpcRequest is the JSON-RPC request envelope sent to the wallet backend.
type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// rpcResponse is the JSON-RPC response envelope returned by the wallet
// backend.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Config describes the connection to the wallet RPC backend.
type Config struct {
	// Host is the wallet RPC endpoint as host:port.
	Host string

	// User and Pass are the credentials for HTTP basic authentication.
	User string
	Pass string

	// DisableTLS indicates the connection should use plain HTTP. When
	// TLS is enabled the Certificates slice, if non-nil, holds the PEM
	// encoded root certificates used to validate the server.
	DisableTLS   bool
	Certificates []byte

	// Timeout bounds every wallet call. Zero selects the default of
	// five seconds.
	Timeout time.Duration
}

// Client is an HTTP POST JSON-RPC client for the wallet backend. Every
// operation is a blocking request/response pair; any transport or RPC
// failure is returned to the caller, which treats it as fatal to the swap
// step in flight. The client never retries.
type Client struct {
	id         uint64
	config     *Config
	httpClient *http.Client
}

// New creates a wallet RPC client for the described backend. No connection
// is attempted until the first call.
func New(config *Config) (*Client, error) {
	if config.Host == "" {
		return nil, errors.New("wallet RPC host must not be empty")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	var transport http.RoundTripper
	if !config.DisableTLS && len(config.Certificates) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(config.Certificates) {
			return nil, errors.New("invalid wallet RPC certificate")
		}
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// call performs one JSON-RPC round trip and unmarshals a successful result
// into reply.
func (c *Client) call(method string, params []interface{}, reply interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := &rpcRequest{
		ID:     atomic.AddUint64(&c.id, 1),
		Method: method,
		Params: params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	scheme := "https"
	if c.config.DisableTLS {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s", scheme, c.config.Host)

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.User != "" {
		httpReq.SetBasicAuth(c.config.User, c.config.Pass)
	}

	log.Tracef("Sending wallet command %v", method)
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBytes, err := ioutil.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return fmt.Errorf("malformed wallet response for %v: %v", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("wallet command %v failed: %v", method, resp.Error)
	}
	if reply == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, reply)
}

// GetNewAddress generates a fresh receiving address from the wallet.
func (c *Client) GetNewAddress() (string, error) {
	var addr string
	err := c.call(walletjson.MethodGetNewAddress, nil, &addr)
	return addr, err
}

// ListUnspent returns the wallet's current spendable outputs with at least
// minConf confirmations.
func (c *Client) ListUnspent(minConf int) ([]walletjson.UnspentItem, error) {
	var items []walletjson.UnspentItem
	err := c.call(walletjson.MethodListUnspent, []interface{}{minConf}, &items)
	return items, err
}

// CreateRawTransaction constructs an unsigned transaction spending the
// given inputs into the address to amount and address to asset maps.
func (c *Client) CreateRawTransaction(inputs []walletjson.TxInput,
	amounts map[string]float64, assets map[string]string) (string, error) {

	cmd := &walletjson.CreateRawTransactionCmd{
		Inputs:   inputs,
		Amounts:  amounts,
		Assets:   assets,
		LockTime: 0,
	}
	var rawTx string
	err := c.call(walletjson.MethodCreateRawTransaction, cmd.Params(), &rawTx)
	return rawTx, err
}

// ConvertToPSBT converts a raw unsigned transaction into the partially
// signed transaction format.
func (c *Client) ConvertToPSBT(rawTx string) (string, error) {
	var psbt string
	err := c.call(walletjson.MethodConvertToPSBT, []interface{}{rawTx}, &psbt)
	return psbt, err
}

// FillPSBT annotates a PSBT with the wallet metadata required before it can
// be signed.
func (c *Client) FillPSBT(psbt string) (*walletjson.FillPSBTResult, error) {
	var result walletjson.FillPSBTResult
	err := c.call(walletjson.MethodFillPSBTData, []interface{}{psbt}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SignPSBT signs every wallet-owned input of the PSBT.
func (c *Client) SignPSBT(psbt string) (*walletjson.SignPSBTResult, error) {
	var result walletjson.SignPSBTResult
	err := c.call(walletjson.MethodSignPSBT, []interface{}{psbt}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

package walletclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/swapsuite/swap-dealer-server/walletjson"
)

// walletHandler answers each JSON-RPC method with a canned result or error.
type walletHandler struct {
	results map[string]string
	errors  map[string]string

	requests []rpcRequest
}

func (h *walletHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.requests = append(h.requests, req)

	if msg, ok := h.errors[req.Method]; ok {
		fmt.Fprintf(w, `{"error":{"code":-1,"message":%q}}`, msg)
		return
	}
	result, ok := h.results[req.Method]
	if !ok {
		fmt.Fprintf(w, `{"error":{"code":-32601,"message":"method not found"}}`)
		return
	}
	fmt.Fprintf(w, `{"result":%s}`, result)
}

func newTestClient(t *testing.T, handler *walletHandler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(&Config{
		Host:       strings.TrimPrefix(server.URL, "http://"),
		User:       "dealer",
		Pass:       "secret",
		DisableTLS: true,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGetNewAddress(t *testing.T) {
	handler := &walletHandler{results: map[string]string{
		walletjson.MethodGetNewAddress: `"el1qtestaddr"`,
	}}
	client := newTestClient(t, handler)

	addr, err := client.GetNewAddress()
	if err != nil {
		t.Fatalf("getnewaddress: %v", err)
	}
	if addr != "el1qtestaddr" {
		t.Fatalf("addr = %q", addr)
	}
}

func TestListUnspent(t *testing.T) {
	handler := &walletHandler{results: map[string]string{
		walletjson.MethodListUnspent: `[
			{"txid":"aa","vout":1,"asset":"aaaa","amount":0.5,"confirmations":3},
			{"txid":"bb","vout":0,"asset":"bbbb","amount":0.25,"confirmations":0}
		]`,
	}}
	client := newTestClient(t, handler)

	items, err := client.ListUnspent(0)
	if err != nil {
		t.Fatalf("listunspent: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].TxID != "aa" || items[0].Vout != 1 || items[0].Amount != 0.5 {
		t.Fatalf("items[0] = %+v", items[0])
	}

	// The minimum confirmation count travels as the first parameter.
	params := handler.requests[0].Params
	if len(params) != 1 || params[0] != float64(0) {
		t.Fatalf("params = %v", params)
	}

	if got := walletjson.UnspentTotal(items); got != 75000000 {
		t.Fatalf("unspent total = %d, want 75000000", got)
	}
}

func TestCreateRawTransactionParams(t *testing.T) {
	handler := &walletHandler{results: map[string]string{
		walletjson.MethodCreateRawTransaction: `"rawtx"`,
	}}
	client := newTestClient(t, handler)

	rawTx, err := client.CreateRawTransaction(
		[]walletjson.TxInput{{TxID: "aa", Vout: 1}},
		map[string]float64{"addr1": 0.5},
		map[string]string{"addr1": "aaaa"},
	)
	if err != nil {
		t.Fatalf("createrawtransaction: %v", err)
	}
	if rawTx != "rawtx" {
		t.Fatalf("rawTx = %q", rawTx)
	}

	// Positional params: inputs, amounts, locktime, replaceable, assets.
	params := handler.requests[0].Params
	if len(params) != 5 {
		t.Fatalf("got %d params, want 5", len(params))
	}
}

func TestPSBTFlow(t *testing.T) {
	handler := &walletHandler{results: map[string]string{
		walletjson.MethodConvertToPSBT: `"psbt0"`,
		walletjson.MethodFillPSBTData:  `{"psbt":"psbt1"}`,
		walletjson.MethodSignPSBT:      `{"psbt":"psbt2","complete":false}`,
	}}
	client := newTestClient(t, handler)

	psbt, err := client.ConvertToPSBT("rawtx")
	if err != nil {
		t.Fatalf("converttopsbt: %v", err)
	}
	if psbt != "psbt0" {
		t.Fatalf("psbt = %q", psbt)
	}

	filled, err := client.FillPSBT(psbt)
	if err != nil {
		t.Fatalf("fillpsbt: %v", err)
	}
	if filled.PSBT != "psbt1" {
		t.Fatalf("filled = %+v", filled)
	}

	signed, err := client.SignPSBT(filled.PSBT)
	if err != nil {
		t.Fatalf("signpsbt: %v", err)
	}
	if signed.PSBT != "psbt2" || signed.Complete {
		t.Fatalf("signed = %+v", signed)
	}
}

func TestWalletRPCErrors(t *testing.T) {
	handler := &walletHandler{errors: map[string]string{
		walletjson.MethodGetNewAddress: "wallet is locked",
	}}
	client := newTestClient(t, handler)

	if _, err := client.GetNewAddress(); err == nil {
		t.Fatal("wallet error not surfaced")
	} else if !strings.Contains(err.Error(), "wallet is locked") {
		t.Fatalf("err = %v", err)
	}
}

func TestWalletUnreachable(t *testing.T) {
	client, err := New(&Config{Host: "127.0.0.1:1", DisableTLS: true})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GetNewAddress(); err == nil {
		t.Fatal("unreachable wallet not surfaced")
	}
}

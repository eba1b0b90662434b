package ethereum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newStubNode serves canned JSON-RPC responses so the client can be
// exercised without a live chain.
func newStubNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}

		key := req.Method
		if req.Method == "eth_getTransactionCount" && len(req.Params) == 2 {
			var block string
			_ = json.Unmarshal(req.Params[1], &block)
			key = req.Method + "/" + block
		}

		result, ok := results[key]
		if !ok {
			t.Fatalf("unexpected rpc method: %s", key)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func TestClientChainQueries(t *testing.T) {
	t.Parallel()

	node := newStubNode(t, map[string]any{
		"eth_chainId":                     "0x539",
		"eth_blockNumber":                 "0x10",
		"eth_getTransactionCount/latest":  "0x5",
		"eth_getTransactionCount/pending": "0x7",
		"eth_getBalance":                  "0xde0b6b3a7640000",
		"eth_sendRawTransaction":          "0x000000000000000000000000000000000000000000000000000000000000beef",
	})
	defer node.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{Name: "stub", RPCURL: node.URL, Notes: "test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" || snapshot.BlockNumber != "0x10" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.Notes != "test" {
		t.Fatalf("notes lost: %+v", snapshot)
	}

	const address = "0x00000000000000000000000000000000000000aa"
	confirmed, err := client.NonceAt(ctx, address)
	if err != nil {
		t.Fatalf("nonce at: %v", err)
	}
	if confirmed != 5 {
		t.Fatalf("expected confirmed nonce 5, got %d", confirmed)
	}

	pending, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		t.Fatalf("pending nonce at: %v", err)
	}
	if pending != 7 {
		t.Fatalf("expected pending nonce 7, got %d", pending)
	}

	balance, err := client.BalanceAt(ctx, address)
	if err != nil {
		t.Fatalf("balance at: %v", err)
	}
	if balance != "0xde0b6b3a7640000" {
		t.Fatalf("unexpected balance %s", balance)
	}

	hash, err := client.SendRawTransaction(ctx, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("send raw tx: %v", err)
	}
	if hash == "" {
		t.Fatal("expected transaction hash")
	}
}

func TestClientRejectsInvalidAddress(t *testing.T) {
	t.Parallel()

	node := newStubNode(t, map[string]any{})
	defer node.Close()

	ctx := context.Background()
	client, err := NewClient(ctx, Config{Name: "stub", RPCURL: node.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	if _, err := client.NonceAt(ctx, "not-an-address"); err == nil {
		t.Fatal("expected invalid address to be rejected")
	}
	if _, err := client.SendRawTransaction(ctx, nil); err == nil {
		t.Fatal("expected empty raw tx to be rejected")
	}
}

package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nondejus/lbrycrd/core"
	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage"
	"github.com/nondejus/lbrycrd/storage/blockstore"
)

const testAuthToken = "rpc-test-token"

type testEnv struct {
	node   *core.Node
	server *Server
	router http.Handler
}

func newTestEnv(t testing.TB, cfg Config) *testEnv {
	t.Helper()
	store, err := blockstore.Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), store, nil, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	server := NewServer(node, nil, cfg)
	return &testEnv{node: node, server: server, router: server.Router()}
}

// premineOutpoint locates the genesis coinbase output the fixtures spend.
func premineOutpoint() types.OutPoint {
	gen := core.GenesisBlock()
	return types.OutPoint{TxID: gen.Transactions[0].Hash(), Index: 0}
}

func premineValue() int64 {
	return core.GenesisBlock().Transactions[0].Outputs[0].Value
}

// claimTx spends prev into a name claim plus a change output at index 1,
// so fixtures can chain claims block after block.
func claimTx(prev types.OutPoint, prevValue int64, name string, amount int64) *types.Transaction {
	return &types.Transaction{
		Inputs: []types.TxIn{{PrevOut: prev}},
		Outputs: []types.TxOut{
			{Value: amount, PkScript: types.ClaimNameScript(name, []byte("payload"), [20]byte{0x11})},
			{Value: prevValue - amount, PkScript: types.PayToPubKeyHashScript([20]byte{0x22})},
		},
	}
}

// wireResponse mirrors RPCResponse with the result left raw so tests can
// decode it into whatever shape a method returns.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func marshalParams(t testing.TB, values ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		out[i] = data
	}
	return out
}

// postRPC drives one JSON-RPC request through the full HTTP router and
// returns the status code with the decoded envelope.
func (env *testEnv) postRPC(t testing.TB, method string, params ...interface{}) (int, *wireResponse) {
	t.Helper()
	return env.postRPCAuthed(t, "", method, params...)
}

func (env *testEnv) postRPCAuthed(t testing.TB, token, method string, params ...interface{}) (int, *wireResponse) {
	t.Helper()
	body, err := json.Marshal(&RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  marshalParams(t, params...),
		ID:      1,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	resp := &wireResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	return rec.Code, resp
}

func (env *testEnv) mustResult(t testing.TB, method string, params ...interface{}) json.RawMessage {
	t.Helper()
	status, resp := env.postRPC(t, method, params...)
	if resp.Error != nil {
		t.Fatalf("%s failed: %+v", method, resp.Error)
	}
	require.Equal(t, http.StatusOK, status)
	return resp.Result
}

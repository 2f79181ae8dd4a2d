package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/chain"
	"github.com/nondejus/lbrycrd/core/claimquery"
	"github.com/nondejus/lbrycrd/core/types"
)

// dispatchError carries a wire code decided during method routing, for
// failures that never reach the query layer.
type dispatchError struct {
	code    int
	message string
}

func (e *dispatchError) Error() string { return e.message }

// dispatch runs one request and shapes the response envelope. The bool
// reports whether the caller presented the ingestion bearer token.
func (s *Server) dispatch(ctx context.Context, req *RPCRequest, authed bool) (*RPCResponse, int) {
	start := time.Now()
	qlog := s.logger.With("query", uuid.NewString(), "method", req.Method)

	result, err := s.call(ctx, req, authed)
	elapsed := time.Since(start)
	if err != nil {
		code := errorCode(err)
		var de *dispatchError
		if errors.As(err, &de) {
			code = de.code
		}
		s.metrics.ObserveQuery(req.Method, "error", elapsed.Seconds())
		qlog.Warn("query failed", "err", err, "elapsed", elapsed)
		return errorResponse(req.ID, code, errMessage(err), nil), httpStatusFor(code)
	}
	s.metrics.ObserveQuery(req.Method, "ok", elapsed.Seconds())
	qlog.Debug("query served", "elapsed", elapsed)
	return resultResponse(req.ID, result), http.StatusOK
}

func (s *Server) call(ctx context.Context, req *RPCRequest, authed bool) (interface{}, error) {
	p := params(req.Params)
	switch req.Method {
	case "getclaimsintrie":
		return s.getClaimsInTrie(ctx, p)
	case "getnamesintrie":
		return s.getNamesInTrie(ctx, p)
	case "getclaimtrie":
		return nil, claimquery.Errorf(claimquery.Deprecated,
			"getclaimtrie was removed in v0.17.\nClients should use getnamesintrie.")
	case "getvalueforname":
		return s.getValueForName(ctx, p)
	case "getclaimsforname":
		return s.getClaimsForName(ctx, p)
	case "getclaimbybid":
		return s.getClaimByBid(ctx, p)
	case "getclaimbyseq":
		return s.getClaimBySeq(ctx, p)
	case "getclaimbyid":
		return s.getClaimByID(ctx, p)
	case "gettotalclaimednames":
		return s.getTotalClaimedNames(ctx)
	case "gettotalclaims":
		return s.getTotalClaims(ctx)
	case "gettotalvalueofclaims":
		return s.getTotalValueOfClaims(ctx, p)
	case "getclaimsfortx":
		return s.getClaimsForTx(ctx, p)
	case "getnameproof":
		return s.getNameProof(ctx, p)
	case "getclaimproofbybid":
		return s.getClaimProofByBid(ctx, p)
	case "getclaimproofbyseq":
		return s.getClaimProofBySeq(ctx, p)
	case "getchangesinblock":
		return s.getChangesInBlock(ctx, p)
	case "checknormalization":
		return s.checkNormalization(p)
	case "submitblock":
		return s.submitBlock(p, authed)
	case "generateblock":
		return s.generateBlock(p, authed)
	}
	return nil, &dispatchError{codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method)}
}

func (s *Server) getClaimsInTrie(ctx context.Context, p params) (interface{}, error) {
	if !s.deprecated["getclaimsintrie"] {
		return nil, claimquery.Errorf(claimquery.Deprecated,
			"getclaimsintrie is deprecated and will be removed in v0.18. To use this command, list it under DeprecatedRPC in the node configuration.")
	}
	blockHash, _, err := p.str(0)
	if err != nil {
		return nil, err
	}
	var out []claimquery.TrieNameClaims
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		out, err = v.ListClaims(ctx)
		return err
	})
	return out, err
}

func (s *Server) getNamesInTrie(ctx context.Context, p params) (interface{}, error) {
	blockHash, _, err := p.str(0)
	if err != nil {
		return nil, err
	}
	var out []string
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		out, err = v.ListNames(ctx)
		return err
	})
	return out, err
}

func (s *Server) getValueForName(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(1)
	if err != nil {
		return nil, err
	}
	claimID, _, err := p.str(2)
	if err != nil {
		return nil, err
	}
	var out interface{} = struct{}{}
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		res, err := v.ValueForName(name, claimID)
		if err != nil {
			return err
		}
		if res != nil {
			out = res
		}
		return nil
	})
	return out, err
}

func (s *Server) getClaimsForName(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(1)
	if err != nil {
		return nil, err
	}
	var out *claimquery.NameClaimsResult
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		out, err = v.ClaimsForName(name)
		return err
	})
	return out, err
}

func (s *Server) getClaimByBid(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	bid, _, err := p.integer(1)
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(2)
	if err != nil {
		return nil, err
	}
	var out interface{} = struct{}{}
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		res, err := v.ClaimAtBid(name, bid)
		if err != nil {
			return err
		}
		if res != nil {
			out = res
		}
		return nil
	})
	return out, err
}

func (s *Server) getClaimBySeq(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	seq, _, err := p.integer(1)
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(2)
	if err != nil {
		return nil, err
	}
	var out interface{} = struct{}{}
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		res, err := v.ClaimAtSequence(name, seq)
		if err != nil {
			return err
		}
		if res != nil {
			out = res
		}
		return nil
	})
	return out, err
}

func (s *Server) getClaimByID(ctx context.Context, p params) (interface{}, error) {
	claimID, err := p.requiredStr(0, "claimId")
	if err != nil {
		return nil, err
	}
	var out interface{} = struct{}{}
	err = s.node.WithView(func(v *claimquery.View) error {
		res, err := v.ClaimByID(claimID)
		if err != nil {
			return err
		}
		if res != nil {
			out = res
		}
		return nil
	})
	return out, err
}

func (s *Server) getTotalClaimedNames(ctx context.Context) (interface{}, error) {
	var out int64
	err := s.node.WithView(func(v *claimquery.View) error {
		var err error
		out, err = v.TotalNames(ctx)
		return err
	})
	return out, err
}

func (s *Server) getTotalClaims(ctx context.Context) (interface{}, error) {
	var out int64
	err := s.node.WithView(func(v *claimquery.View) error {
		var err error
		out, err = v.TotalClaims(ctx)
		return err
	})
	return out, err
}

func (s *Server) getTotalValueOfClaims(ctx context.Context, p params) (interface{}, error) {
	controllingOnly, _, err := p.boolean(0)
	if err != nil {
		return nil, err
	}
	var out int64
	err = s.node.WithView(func(v *claimquery.View) error {
		out, err = v.TotalValue(ctx, controllingOnly)
		return err
	})
	return out, err
}

func (s *Server) getClaimsForTx(ctx context.Context, p params) (interface{}, error) {
	raw, err := p.requiredStr(0, "txid")
	if err != nil {
		return nil, err
	}
	txid, err := types.HashFromHex(raw)
	if err != nil {
		return nil, claimquery.Errorf(claimquery.InvalidArgument, "txid must be a 64-character hex string")
	}
	var out []claimquery.TxClaimEntry
	err = s.node.WithView(func(v *claimquery.View) error {
		out, err = v.ClaimsForTx(txid)
		return err
	})
	return out, err
}

func (s *Server) getNameProof(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(1)
	if err != nil {
		return nil, err
	}
	claimID, _, err := p.str(2)
	if err != nil {
		return nil, err
	}
	var out *claimquery.ProofJSON
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		proof, err := v.NameProof(name, claimID)
		if err != nil {
			return err
		}
		out = claimquery.RenderProof(proof)
		return nil
	})
	return out, err
}

func (s *Server) getClaimProofByBid(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	bid, _, err := p.integer(1)
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(2)
	if err != nil {
		return nil, err
	}
	var out interface{} = []struct{}{}
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		proof, err := v.ProofByBid(name, bid)
		if err != nil {
			return err
		}
		if proof != nil {
			out = claimquery.RenderProof(proof)
		}
		return nil
	})
	return out, err
}

func (s *Server) getClaimProofBySeq(ctx context.Context, p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	seq, _, err := p.integer(1)
	if err != nil {
		return nil, err
	}
	blockHash, _, err := p.str(2)
	if err != nil {
		return nil, err
	}
	var out interface{} = []struct{}{}
	err = s.withViewAt(ctx, blockHash, func(v *claimquery.View) error {
		proof, err := v.ProofBySequence(name, seq)
		if err != nil {
			return err
		}
		if proof != nil {
			out = claimquery.RenderProof(proof)
		}
		return nil
	})
	return out, err
}

func (s *Server) getChangesInBlock(ctx context.Context, p params) (interface{}, error) {
	blockHash, _, err := p.str(0)
	if err != nil {
		return nil, err
	}
	var out *claimquery.BlockChanges
	err = s.node.WithView(func(v *claimquery.View) error {
		target := v.Index.Tip()
		if blockHash != "" {
			target, err = lookupBlock(v, blockHash)
			if err != nil {
				return err
			}
		}
		out, err = v.ChangesInBlock(target)
		return err
	})
	return out, err
}

func (s *Server) checkNormalization(p params) (interface{}, error) {
	name, err := p.requiredStr(0, "name")
	if err != nil {
		return nil, err
	}
	return claimtrie.Normalize(name), nil
}

// SubmittedBlock reports a block accepted through the ingestion methods.
type SubmittedBlock struct {
	Hash   string `json:"hash"`
	Height int32  `json:"height"`
}

func (s *Server) submitBlock(p params, authed bool) (interface{}, error) {
	if !authed {
		return nil, &dispatchError{codeUnauthorized, "authorization required"}
	}
	raw, err := p.requiredStr(0, "blockdata")
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(raw)
	if err != nil {
		return nil, claimquery.Errorf(claimquery.InvalidArgument, "blockdata must be hex encoded")
	}
	block, err := types.DecodeBlock(data)
	if err != nil {
		return nil, claimquery.Errorf(claimquery.InvalidArgument, "blockdata does not decode: %v", err)
	}
	if err := s.node.SubmitBlock(block); err != nil {
		return nil, err
	}
	return &SubmittedBlock{Hash: block.Hash().Hex(), Height: block.Header.Height}, nil
}

func (s *Server) generateBlock(p params, authed bool) (interface{}, error) {
	if !authed {
		return nil, &dispatchError{codeUnauthorized, "authorization required"}
	}
	var rawTxs []string
	if len(p) > 0 && p[0] != nil {
		if err := json.Unmarshal(p[0], &rawTxs); err != nil {
			return nil, claimquery.Errorf(claimquery.InvalidArgument, "parameter 1 must be an array of hex transactions")
		}
	}
	txs := make([]*types.Transaction, 0, len(rawTxs))
	for i, raw := range rawTxs {
		data, err := hex.DecodeString(raw)
		if err != nil {
			return nil, claimquery.Errorf(claimquery.InvalidArgument, "transaction %d must be hex encoded", i+1)
		}
		tx, err := types.DecodeTransaction(data)
		if err != nil {
			return nil, claimquery.Errorf(claimquery.InvalidArgument, "transaction %d does not decode: %v", i+1, err)
		}
		txs = append(txs, tx)
	}
	block, err := s.node.GenerateBlock(txs...)
	if err != nil {
		return nil, err
	}
	return &SubmittedBlock{Hash: block.Hash().Hex(), Height: block.Header.Height}, nil
}

// withViewAt pins a view at the chain tip and, when blockHash names an
// earlier block, rewinds the view to it before running fn.
func (s *Server) withViewAt(ctx context.Context, blockHash string, fn func(*claimquery.View) error) error {
	return s.node.WithView(func(v *claimquery.View) error {
		if blockHash != "" {
			target, err := lookupBlock(v, blockHash)
			if err != nil {
				return err
			}
			if err := claimquery.RollBackTo(ctx, v, target); err != nil {
				return err
			}
		}
		return fn(v)
	})
}

func lookupBlock(v *claimquery.View, blockHash string) (*chain.BlockNode, error) {
	hash, err := types.HashFromHex(blockHash)
	if err != nil {
		return nil, claimquery.Errorf(claimquery.InvalidArgument, "blockhash must be a 64-character hex string")
	}
	node := v.Index.LookupHash(hash)
	if node == nil {
		return nil, claimquery.Errorf(claimquery.NotInMainChain, "Block not found")
	}
	return node, nil
}

// params reads positional JSON-RPC arguments. Absent or null positions
// report !ok rather than an error so optional trailing parameters work.
type params []json.RawMessage

func (p params) str(i int) (string, bool, error) {
	if i >= len(p) || p[i] == nil {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(p[i], &s); err != nil {
		return "", false, claimquery.Errorf(claimquery.InvalidArgument, "parameter %d must be a string", i+1)
	}
	return s, true, nil
}

func (p params) requiredStr(i int, label string) (string, error) {
	s, ok, err := p.str(i)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", claimquery.Errorf(claimquery.InvalidArgument, "%s (parameter %d) required", label, i+1)
	}
	return s, nil
}

func (p params) integer(i int) (int, bool, error) {
	if i >= len(p) || p[i] == nil {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(p[i], &n); err != nil {
		return 0, false, claimquery.Errorf(claimquery.InvalidArgument, "parameter %d must be an integer", i+1)
	}
	return n, true, nil
}

func (p params) boolean(i int) (bool, bool, error) {
	if i >= len(p) || p[i] == nil {
		return false, false, nil
	}
	var b bool
	if err := json.Unmarshal(p[i], &b); err != nil {
		return false, false, claimquery.Errorf(claimquery.InvalidArgument, "parameter %d must be a boolean", i+1)
	}
	return b, true, nil
}

func errMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "claimquery: ")
}

func httpStatusFor(code int) int {
	switch code {
	case codeMethodNotFound:
		return http.StatusNotFound
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeParseError, codeInvalidRequest, codeInvalidParams, codeDeprecated:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

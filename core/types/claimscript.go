package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Claim script opcodes. A claim script is an ordinary output script with a
// claim prefix in front: the claim opcode, its pushed parameters, and the
// drop opcodes that clear them off the stack before the payment script runs.
const (
	OpClaimName    byte = 0xb5
	OpSupportClaim byte = 0xb6
	OpUpdateClaim  byte = 0xb7

	opDrop  byte = 0x75
	op2Drop byte = 0x6d

	opPushData1 byte = 0x4c
	opPushData2 byte = 0x4d
	opPushData4 byte = 0x4e

	opDup         byte = 0x76
	opHash160     byte = 0xa9
	opEqual       byte = 0x87
	opEqualVerify byte = 0x88
	opCheckSig    byte = 0xac
)

// Address version bytes for rendered base58check addresses.
const (
	pubKeyHashAddrID byte = 0x55
	scriptHashAddrID byte = 0x7a
)

// MaxClaimNameSize bounds the name parameter of a claim script.
const MaxClaimNameSize = 255

var errNotClaimScript = errors.New("types: not a claim script")

// ClaimScript is the decoded claim prefix of an output script.
type ClaimScript struct {
	Op      byte   // OpClaimName, OpSupportClaim or OpUpdateClaim
	Name    []byte // raw name bytes, not normalized
	ClaimID ClaimID
	Value   []byte // claim metadata; nil for supports without data
	Size    int    // bytes consumed by the prefix, including drops
}

// HasValue reports whether the script carried a metadata payload.
func (cs *ClaimScript) HasValue() bool { return cs.Value != nil }

// DecodeClaimScript parses the claim prefix of script. It returns
// (nil, false) for scripts without a claim opcode and an error only for
// scripts that start like a claim but are malformed.
func DecodeClaimScript(script []byte) (*ClaimScript, bool, error) {
	if len(script) == 0 {
		return nil, false, nil
	}
	op := script[0]
	if op != OpClaimName && op != OpSupportClaim && op != OpUpdateClaim {
		return nil, false, nil
	}
	cs := &ClaimScript{Op: op}
	pos := 1

	name, pos, err := readPush(script, pos)
	if err != nil {
		return nil, true, fmt.Errorf("types: claim script name: %w", err)
	}
	if len(name) == 0 || len(name) > MaxClaimNameSize {
		return nil, true, fmt.Errorf("types: claim script name length %d out of range", len(name))
	}
	cs.Name = name

	switch op {
	case OpClaimName:
		value, next, err := readPush(script, pos)
		if err != nil {
			return nil, true, fmt.Errorf("types: claim script value: %w", err)
		}
		cs.Value = value
		pos, err = expectDrops(script, next, op2Drop, opDrop)
		if err != nil {
			return nil, true, err
		}
	case OpUpdateClaim:
		id, next, err := readPush(script, pos)
		if err != nil {
			return nil, true, fmt.Errorf("types: claim script id: %w", err)
		}
		if len(id) != ClaimIDSize {
			return nil, true, fmt.Errorf("types: claim script id length %d", len(id))
		}
		copy(cs.ClaimID[:], id)
		value, next, err := readPush(script, next)
		if err != nil {
			return nil, true, fmt.Errorf("types: claim script value: %w", err)
		}
		cs.Value = value
		pos, err = expectDrops(script, next, op2Drop, op2Drop)
		if err != nil {
			return nil, true, err
		}
	case OpSupportClaim:
		id, next, err := readPush(script, pos)
		if err != nil {
			return nil, true, fmt.Errorf("types: claim script id: %w", err)
		}
		if len(id) != ClaimIDSize {
			return nil, true, fmt.Errorf("types: claim script id length %d", len(id))
		}
		copy(cs.ClaimID[:], id)
		// Supports may carry a metadata payload; the drop pattern tells
		// the two forms apart.
		if value, next2, err := readPush(script, next); err == nil {
			if pos2, err2 := expectDrops(script, next2, op2Drop, op2Drop); err2 == nil {
				cs.Value = value
				pos = pos2
				break
			}
		}
		pos, err = expectDrops(script, next, op2Drop, opDrop)
		if err != nil {
			return nil, true, err
		}
	}
	cs.Size = pos
	return cs, true, nil
}

// StripClaimPrefix returns the payment script that follows the claim prefix,
// or the script unchanged when no prefix is present.
func StripClaimPrefix(script []byte) []byte {
	cs, ok, err := DecodeClaimScript(script)
	if !ok || err != nil {
		return script
	}
	return script[cs.Size:]
}

// ExtractAddress renders the destination of an output script as a
// base58check address. Claim prefixes are stripped first. The second return
// is false for non-standard payment scripts.
func ExtractAddress(script []byte) (string, bool) {
	pay := StripClaimPrefix(script)
	switch {
	case len(pay) == 25 && pay[0] == opDup && pay[1] == opHash160 && pay[2] == 20 &&
		pay[23] == opEqualVerify && pay[24] == opCheckSig:
		return base58.CheckEncode(pay[3:23], pubKeyHashAddrID), true
	case len(pay) == 23 && pay[0] == opHash160 && pay[1] == 20 && pay[22] == opEqual:
		return base58.CheckEncode(pay[2:22], scriptHashAddrID), true
	}
	return "", false
}

// ClaimNameScript builds an OP_CLAIM_NAME output script paying to the given
// pubkey hash.
func ClaimNameScript(name string, value []byte, pubKeyHash [20]byte) []byte {
	var b scriptBuilder
	b.op(OpClaimName).push([]byte(name)).push(value).op(op2Drop).op(opDrop)
	b.payToPubKeyHash(pubKeyHash)
	return b.buf
}

// UpdateClaimScript builds an OP_UPDATE_CLAIM output script.
func UpdateClaimScript(name string, id ClaimID, value []byte, pubKeyHash [20]byte) []byte {
	var b scriptBuilder
	b.op(OpUpdateClaim).push([]byte(name)).push(id[:]).push(value).op(op2Drop).op(op2Drop)
	b.payToPubKeyHash(pubKeyHash)
	return b.buf
}

// SupportClaimScript builds an OP_SUPPORT_CLAIM output script. A nil value
// produces the short two-parameter form.
func SupportClaimScript(name string, id ClaimID, value []byte, pubKeyHash [20]byte) []byte {
	var b scriptBuilder
	b.op(OpSupportClaim).push([]byte(name)).push(id[:])
	if value != nil {
		b.push(value).op(op2Drop).op(op2Drop)
	} else {
		b.op(op2Drop).op(opDrop)
	}
	b.payToPubKeyHash(pubKeyHash)
	return b.buf
}

// PayToPubKeyHashScript builds a plain P2PKH script with no claim prefix.
func PayToPubKeyHashScript(pubKeyHash [20]byte) []byte {
	var b scriptBuilder
	b.payToPubKeyHash(pubKeyHash)
	return b.buf
}

type scriptBuilder struct {
	buf []byte
}

func (b *scriptBuilder) op(op byte) *scriptBuilder {
	b.buf = append(b.buf, op)
	return b
}

func (b *scriptBuilder) push(data []byte) *scriptBuilder {
	n := len(data)
	switch {
	case n < int(opPushData1):
		b.buf = append(b.buf, byte(n))
	case n <= 0xff:
		b.buf = append(b.buf, opPushData1, byte(n))
	case n <= 0xffff:
		b.buf = append(b.buf, opPushData2)
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(n))
	default:
		b.buf = append(b.buf, opPushData4)
		b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(n))
	}
	b.buf = append(b.buf, data...)
	return b
}

func (b *scriptBuilder) payToPubKeyHash(h [20]byte) {
	b.op(opDup).op(opHash160)
	b.push(h[:])
	b.op(opEqualVerify).op(opCheckSig)
}

func readPush(script []byte, pos int) ([]byte, int, error) {
	if pos >= len(script) {
		return nil, 0, errors.New("script truncated")
	}
	op := script[pos]
	pos++
	var n int
	switch {
	case op < opPushData1:
		n = int(op)
	case op == opPushData1:
		if pos+1 > len(script) {
			return nil, 0, errors.New("pushdata1 truncated")
		}
		n = int(script[pos])
		pos++
	case op == opPushData2:
		if pos+2 > len(script) {
			return nil, 0, errors.New("pushdata2 truncated")
		}
		n = int(binary.LittleEndian.Uint16(script[pos : pos+2]))
		pos += 2
	case op == opPushData4:
		if pos+4 > len(script) {
			return nil, 0, errors.New("pushdata4 truncated")
		}
		n = int(binary.LittleEndian.Uint32(script[pos : pos+4]))
		pos += 4
	default:
		return nil, 0, fmt.Errorf("opcode 0x%02x is not a push", op)
	}
	if pos+n > len(script) {
		return nil, 0, errors.New("push data truncated")
	}
	data := script[pos : pos+n]
	return data, pos + n, nil
}

func expectDrops(script []byte, pos int, ops ...byte) (int, error) {
	for _, want := range ops {
		if pos >= len(script) || script[pos] != want {
			return 0, errNotClaimScript
		}
		pos++
	}
	return pos, nil
}

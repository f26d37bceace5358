package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const jsonRPCVersion = "2.0"

type request struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type message struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// requestID returns the numeric id of a response. Notifications have none.
func (m message) requestID() (int64, bool) {
	if len(m.ID) == 0 || string(m.ID) == "null" {
		return 0, false
	}
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type jobParams struct {
	Blob     string `json:"blob"`
	JobID    string `json:"job_id"`
	Target   string `json:"target"`
	Algo     string `json:"algo"`
	Height   uint64 `json:"height"`
	SeedHash string `json:"seed_hash"`
}

type loginResult struct {
	ID     string     `json:"id"`
	Job    *jobParams `json:"job"`
	Status string     `json:"status"`
}

type submitResult struct {
	Status string `json:"status"`
}

var errInvalidTarget = errors.New("invalid target")

// targetToDiff converts a little-endian hex target into a share difficulty.
// Four-byte targets are compact forms of the eight-byte one.
func targetToDiff(target string) (uint64, error) {
	raw, err := hex.DecodeString(target)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errInvalidTarget, err)
	}
	switch len(raw) {
	case 4:
		t := binary.LittleEndian.Uint32(raw)
		if t == 0 {
			return 0, errInvalidTarget
		}
		return math.MaxUint32 / uint64(t), nil
	case 8:
		t := binary.LittleEndian.Uint64(raw)
		if t == 0 {
			return 0, errInvalidTarget
		}
		return math.MaxUint64 / t, nil
	default:
		return 0, fmt.Errorf("%w: %d bytes", errInvalidTarget, len(raw))
	}
}

// actualDiff is the difficulty a result hash actually meets, read from its
// most significant eight bytes. Malformed hashes score zero.
func actualDiff(result string) uint64 {
	raw, err := hex.DecodeString(result)
	if err != nil || len(raw) != 32 {
		return 0
	}
	v := binary.LittleEndian.Uint64(raw[24:])
	if v == 0 {
		return 0
	}
	return math.MaxUint64 / v
}

// cryptonoteFamilies are the algorithm families whose jobs carry a CryptoNote
// hashing blob.
var cryptonoteFamilies = map[string]bool{
	"cn":       true,
	"cn-lite":  true,
	"cn-heavy": true,
	"cn-pico":  true,
	"rx":       true,
	"argon2":   true,
}

// blobTxCount reads the transaction count of a CryptoNote hashing blob. The
// blob holds the version and timestamp varints, the previous block id, the
// nonce and the merkle root, then a varint count that includes the miner
// transaction. The miner transaction is not counted.
func blobTxCount(blob string) (uint32, bool) {
	raw, err := hex.DecodeString(blob)
	if err != nil {
		return 0, false
	}
	for range 3 {
		_, n := binary.Uvarint(raw)
		if n <= 0 {
			return 0, false
		}
		raw = raw[n:]
	}
	const fixed = 32 + 4 + 32
	if len(raw) < fixed {
		return 0, false
	}
	count, n := binary.Uvarint(raw[fixed:])
	if n <= 0 || count == 0 || count-1 > math.MaxUint32 {
		return 0, false
	}
	return uint32(count - 1), true
}

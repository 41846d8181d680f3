package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// actionSigner signs exchange actions the way the venue's phantom "Agent"
// EIP-712 type expects: a domain-separated hash of {source, connectionId},
// where connectionId is itself a hash of the action payload plus a nonce.
// Generalized from the teacher's internal/signer package, which pre-computes
// a domain separator once and hashes a single struct shape (a CLOB order);
// here the struct being hashed varies per action kind, so signAction hashes
// the action payload inline in place of the teacher's fixed hashOrder.
type actionSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64
}

func newActionSigner(privateKeyHex string, chainID int64) (*actionSigner, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("hyperliquid: private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: invalid private key: %w", err)
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("hyperliquid: could not derive public key")
	}
	return &actionSigner{
		key:     key,
		address: crypto.PubkeyToAddress(*pub),
		chainID: chainID,
	}, nil
}

func (s *actionSigner) Address() common.Address { return s.address }

// signAction hashes action (its canonical JSON form stands in for the
// venue's binary action encoding — this benchmark never talks to mainnet,
// so byte-for-byte wire compatibility with the real msgpack scheme is out
// of scope) together with nonce, wraps it in the Agent typed-data envelope,
// and returns a 65-byte r||s||v signature hex string.
func (s *actionSigner) signAction(action any, nonce int64) (string, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: marshal action: %w", err)
	}
	nonceBytes := math.U256Bytes(big.NewInt(nonce))
	connectionID := crypto.Keccak256Hash(payload, nonceBytes)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(s.chainID)),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       "a",
			"connectionId": connectionID.Bytes(),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

package evm

import (
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ArachnidFactoryAddress is the deterministic deployment proxy deployed on all EVM chains
// See: https://github.com/Arachnid/deterministic-deployment-proxy
var ArachnidFactoryAddress = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// ComputeCreatorTokenAddress computes the CREATE2 address of an identity's
// creator token when deployed through factory.
//
// CREATE2 formula: address = keccak256(0xff ++ factory ++ salt ++ keccak256(initCode))[12:]
//
// The salt is sha256(identityKey + ":" + chainID), so an identity gets exactly
// one address per chain for a given init code. Knowing the address before
// broadcasting is what lets an interrupted deployment be found again.
func ComputeCreatorTokenAddress(
	factory common.Address,
	identityKey string,
	chainID string,
	initCode []byte,
) (common.Address, error) {
	if factory == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory address cannot be zero")
	}
	if identityKey == "" {
		return common.Address{}, fmt.Errorf("identity key cannot be empty")
	}
	if chainID == "" {
		return common.Address{}, fmt.Errorf("chain ID cannot be empty")
	}
	if len(initCode) == 0 {
		return common.Address{}, fmt.Errorf("init code cannot be empty")
	}

	salt := GenerateSalt(identityKey, chainID)
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode)), nil
}

// GenerateSalt generates a deterministic salt for CREATE2 from identity key and chain ID
func GenerateSalt(identityKey, chainID string) [32]byte {
	saltInput := fmt.Sprintf("%s:%s", identityKey, chainID)
	return sha256.Sum256([]byte(saltInput))
}

// VerifyCreatorTokenAddress checks that addr is where the identity's token deploys to
func VerifyCreatorTokenAddress(
	addr common.Address,
	factory common.Address,
	identityKey string,
	chainID string,
	initCode []byte,
) (bool, error) {
	computed, err := ComputeCreatorTokenAddress(factory, identityKey, chainID, initCode)
	if err != nil {
		return false, err
	}
	return addr == computed, nil
}

// Create2Calldata is the payload the deterministic deployment proxy expects:
// the 32-byte salt followed by the init code.
func Create2Calldata(salt [32]byte, initCode []byte) []byte {
	data := make([]byte, 0, len(salt)+len(initCode))
	data = append(data, salt[:]...)
	return append(data, initCode...)
}

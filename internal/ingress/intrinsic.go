package ingress

import "github.com/ethereum/go-ethereum/core/types"

const (
	txGas                 = 21000
	txGasContractCreation  = 32000
	txDataZeroGas          = 4
	txDataNonZeroGas       = 16
	txAccessListAddressGas = 2400
	txAccessListSlotGas    = 1900
)

// IntrinsicGas computes the intrinsic gas cost per spec.md §4.2.1: a fixed
// base, a contract-creation surcharge, a per-byte calldata cost, and a
// per-entry access-list cost.
func IntrinsicGas(contractCreation bool, data []byte, accessList types.AccessList) uint64 {
	gas := uint64(txGas)
	if contractCreation {
		gas += txGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	for _, entry := range accessList {
		gas += txAccessListAddressGas
		gas += uint64(len(entry.StorageKeys)) * txAccessListSlotGas
	}
	return gas
}

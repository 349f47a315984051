package decoder

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// decodeField converts a single ScVal to a native value guided by the ABI
// type hint (a closed set of primitive kinds). A mismatched hint falls back
// to a generic conversion, then to a string representation — a field never
// fails to decode.
func decodeField(val xdr.ScVal, typeHint string) interface{} {
	switch typeHint {
	case "Address":
		if val.Type == xdr.ScValTypeScvAddress && val.Address != nil {
			if addr, ok := scAddressString(*val.Address); ok {
				return addr
			}
		}
	case "I128":
		if val.Type == xdr.ScValTypeScvI128 && val.I128 != nil {
			return int128String(*val.I128)
		}
	case "U128":
		if val.Type == xdr.ScValTypeScvU128 && val.U128 != nil {
			return uint128String(*val.U128)
		}
	case "I64":
		if val.Type == xdr.ScValTypeScvI64 && val.I64 != nil {
			return int64(*val.I64)
		}
	case "U64":
		if val.Type == xdr.ScValTypeScvU64 && val.U64 != nil {
			return uint64(*val.U64)
		}
	case "I32":
		if val.Type == xdr.ScValTypeScvI32 && val.I32 != nil {
			return int32(*val.I32)
		}
	case "U32":
		if val.Type == xdr.ScValTypeScvU32 && val.U32 != nil {
			return uint32(*val.U32)
		}
	case "String":
		if val.Type == xdr.ScValTypeScvString && val.Str != nil {
			return string(*val.Str)
		}
	case "Bool":
		if val.Type == xdr.ScValTypeScvBool && val.B != nil {
			return *val.B
		}
	case "Bytes":
		if val.Type == xdr.ScValTypeScvBytes && val.Bytes != nil {
			return hex.EncodeToString(*val.Bytes)
		}
	case "Symbol":
		if val.Type == xdr.ScValTypeScvSymbol && val.Sym != nil {
			return string(*val.Sym)
		}
	case "Map":
		if native, ok := toNative(val); ok {
			if m, isMap := native.(map[string]interface{}); isMap {
				return m
			}
			return fmt.Sprintf("%v", native)
		}
	case "Vec":
		if native, ok := toNative(val); ok {
			if list, isList := native.([]interface{}); isList {
				return list
			}
			return fmt.Sprintf("%v", native)
		}
	}

	// Generic fallback for unknown hints and hint/value mismatches
	if native, ok := toNative(val); ok {
		return native
	}
	return scValString(val)
}

// toNative converts any ScVal to a JSON-friendly native value. The second
// result is false for container types the indexer has no use for
// (contract instances, ledger keys).
func toNative(val xdr.ScVal) (interface{}, bool) {
	switch val.Type {
	case xdr.ScValTypeScvBool:
		if val.B != nil {
			return *val.B, true
		}
	case xdr.ScValTypeScvVoid:
		return nil, true
	case xdr.ScValTypeScvU32:
		if val.U32 != nil {
			return uint32(*val.U32), true
		}
	case xdr.ScValTypeScvI32:
		if val.I32 != nil {
			return int32(*val.I32), true
		}
	case xdr.ScValTypeScvU64:
		if val.U64 != nil {
			return uint64(*val.U64), true
		}
	case xdr.ScValTypeScvI64:
		if val.I64 != nil {
			return int64(*val.I64), true
		}
	case xdr.ScValTypeScvTimepoint:
		if val.Timepoint != nil {
			return uint64(*val.Timepoint), true
		}
	case xdr.ScValTypeScvDuration:
		if val.Duration != nil {
			return uint64(*val.Duration), true
		}
	case xdr.ScValTypeScvU128:
		if val.U128 != nil {
			return uint128String(*val.U128), true
		}
	case xdr.ScValTypeScvI128:
		if val.I128 != nil {
			return int128String(*val.I128), true
		}
	case xdr.ScValTypeScvSymbol:
		if val.Sym != nil {
			return string(*val.Sym), true
		}
	case xdr.ScValTypeScvString:
		if val.Str != nil {
			return string(*val.Str), true
		}
	case xdr.ScValTypeScvBytes:
		if val.Bytes != nil {
			return hex.EncodeToString(*val.Bytes), true
		}
	case xdr.ScValTypeScvAddress:
		if val.Address != nil {
			if addr, ok := scAddressString(*val.Address); ok {
				return addr, true
			}
		}
	case xdr.ScValTypeScvVec:
		if val.Vec != nil && *val.Vec != nil {
			items := **val.Vec
			list := make([]interface{}, 0, len(items))
			for _, item := range items {
				if native, ok := toNative(item); ok {
					list = append(list, native)
				} else {
					list = append(list, scValString(item))
				}
			}
			return list, true
		}
	case xdr.ScValTypeScvMap:
		if val.Map != nil && *val.Map != nil {
			entries := **val.Map
			m := make(map[string]interface{}, len(entries))
			for _, entry := range entries {
				var key string
				if native, ok := toNative(entry.Key); ok {
					key = fmt.Sprintf("%v", native)
				} else {
					key = scValString(entry.Key)
				}
				if native, ok := toNative(entry.Val); ok {
					m[key] = native
				} else {
					m[key] = scValString(entry.Val)
				}
			}
			return m, true
		}
	}
	return nil, false
}

// scAddressString encodes an ScAddress as a strkey (G... or C...)
func scAddressString(addr xdr.ScAddress) (string, bool) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", false
		}
		return addr.AccountId.Address(), true
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", false
		}
		contractID := *addr.ContractId
		encoded, err := strkey.Encode(strkey.VersionByteContract, contractID[:])
		if err != nil {
			return "", false
		}
		return encoded, true
	default:
		return "", false
	}
}

// scValString is the last-resort string rendering for values that have no
// native representation
func scValString(val xdr.ScVal) string {
	if encoded, err := xdr.MarshalBase64(val); err == nil {
		return encoded
	}
	return val.Type.String()
}

func uint128String(parts xdr.UInt128Parts) string {
	hi := new(big.Int).SetUint64(uint64(parts.Hi))
	lo := new(big.Int).SetUint64(uint64(parts.Lo))
	hi.Lsh(hi, 64)
	hi.Add(hi, lo)
	return hi.String()
}

func int128String(parts xdr.Int128Parts) string {
	hi := new(big.Int).SetInt64(int64(parts.Hi))
	lo := new(big.Int).SetUint64(uint64(parts.Lo))
	hi.Lsh(hi, 64)
	hi.Add(hi, lo)
	return hi.String()
}

package translate

import (
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/rather-labs/move-wasm/itypes"
)

// keccak256 is the compile-time hash used for selectors.
func keccak256(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// snakeToLowerCamel converts a Move function name to the Solidity-style
// selector name: increment_counter -> incrementCounter.
func snakeToLowerCamel(name string) string {
	return snakeToCamel(name, false)
}

// snakeToUpperCamel converts a Move error struct name to its Solidity error
// name: error_bad_input -> ErrorBadInput.
func snakeToUpperCamel(name string) string {
	return snakeToCamel(name, true)
}

func snakeToCamel(name string, upperFirst bool) string {
	var b strings.Builder
	upper := upperFirst
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
		b.WriteByte(c)
		upper = false
	}
	return b.String()
}

// abiSignature renders "name(type,type,...)" with canonical ABI type names.
func abiSignature(r itypes.Resolver, name string, params []itypes.Type) (string, error) {
	parts := make([]string, len(params))
	for i, p := range params {
		s, err := p.SolidityName(r)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return name + "(" + strings.Join(parts, ",") + ")", nil
}

// FunctionSelector computes the 4-byte selector of an entry function. Move
// snake_case names become lowerCamelCase before hashing. Parameters that are
// storage objects surface as their 32-byte id, so they hash as address.
func FunctionSelector(r itypes.Resolver, name string, params []itypes.Type) ([4]byte, error) {
	sig, err := abiSignature(r, snakeToLowerCamel(name), params)
	if err != nil {
		return [4]byte{}, err
	}
	h := keccak256([]byte(sig))
	return [4]byte{h[0], h[1], h[2], h[3]}, nil
}

// ErrorSelector computes the 4-byte selector of a user-declared error
// struct: UpperCamelCase name over the field types.
func ErrorSelector(r itypes.Resolver, structName string, fields []itypes.Type) ([4]byte, error) {
	sig, err := abiSignature(r, snakeToUpperCamel(structName), fields)
	if err != nil {
		return [4]byte{}, err
	}
	h := keccak256([]byte(sig))
	return [4]byte{h[0], h[1], h[2], h[3]}, nil
}

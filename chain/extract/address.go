package extract

import (
	"strings"
)

const addressLength = 64 // hex characters, excluding the 0x prefix

// StandardizeAddress normalizes an account address to its canonical long
// form: lowercase, 0x prefixed and zero padded to 32 bytes. Addresses appear
// in events in both short and long forms; derived tables always store the
// canonical form so that natural keys compare equal.
func StandardizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if len(addr) < addressLength {
		addr = strings.Repeat("0", addressLength-len(addr)) + addr
	}
	return "0x" + addr
}

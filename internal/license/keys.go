package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks every key issued by this service.
const KeyPrefix = "VT"

// GenerateKey returns a fresh license key of the form
// VT-XXXX-XXXX-XXXX-XXXX where each group is four uppercase hex digits from a
// CSPRNG. Collisions are left to the primary-key constraint.
func GenerateKey() (string, error) {
	groups := make([]string, 0, 4)
	buf := make([]byte, 2)
	for i := 0; i < 4; i++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		groups = append(groups, strings.ToUpper(hex.EncodeToString(buf)))
	}
	return KeyPrefix + "-" + strings.Join(groups, "-"), nil
}

// Package partition defines the keys that identify interpreter scopes.
//
// Key -1 is the single authority partition. It owns compilation and receives every
// routed event. Any other non-negative key is a replica partition, typically one per
// map or instance of the host world.
package partition

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a partition.
type Key int

// Authority is the process-wide global partition.
const Authority Key = -1

// IsAuthority reports whether k is the authority partition.
func (k Key) IsAuthority() bool {
	return k == Authority
}

// String renders the key for logs and CLI output.
func (k Key) String() string {
	if k == Authority {
		return "authority"
	}
	return fmt.Sprintf("partition-%d", int(k))
}

// Validate rejects keys that can never name a partition.
func Validate(k Key) error {
	if k < Authority {
		return fmt.Errorf("invalid partition key %d: must be -1 (authority) or >= 0", int(k))
	}
	return nil
}

// Parse accepts "authority", "global", "-1" or a non-negative integer.
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return 0, fmt.Errorf("partition key cannot be empty")
	case "authority", "global":
		return Authority, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(s, "partition-"))
	if err != nil {
		return 0, fmt.Errorf("invalid partition key '%s': %w", s, err)
	}

	k := Key(n)
	if err := Validate(k); err != nil {
		return 0, err
	}
	return k, nil
}

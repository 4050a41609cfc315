package store

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// NodeKey addresses one item of a playbook by phase id and item index at the
// time of the last sync. It is rendered "phase.index" when persisted.
type NodeKey struct {
	Phase int
	Index int
}

func (k NodeKey) String() string {
	return strconv.Itoa(k.Phase) + "." + strconv.Itoa(k.Index)
}

// Parent is the key of the phase node the item hangs from.
func (k NodeKey) Parent() string {
	return strconv.Itoa(k.Phase)
}

// IsSentinel reports whether k is one of the temporary out-of-range keys used
// while matched rows are being moved.
func (k NodeKey) IsSentinel() bool {
	return k.Phase < 0 || k.Index < 0
}

// SentinelKey returns the i-th temporary key. Sentinel keys never collide with
// each other or with real keys, whose components are non-negative.
func SentinelKey(i int) NodeKey {
	return NodeKey{Phase: -(i + 1), Index: -(i + 1)}
}

func ParseNodeKey(raw string) (NodeKey, error) {
	phasePart, indexPart, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return NodeKey{}, fmt.Errorf("parse node key %q: missing separator", raw)
	}
	phase, err := strconv.Atoi(phasePart)
	if err != nil {
		return NodeKey{}, fmt.Errorf("parse node key %q: phase: %w", raw, err)
	}
	index, err := strconv.Atoi(indexPart)
	if err != nil {
		return NodeKey{}, fmt.Errorf("parse node key %q: index: %w", raw, err)
	}
	return NodeKey{Phase: phase, Index: index}, nil
}

func (k NodeKey) Value() (driver.Value, error) {
	return k.String(), nil
}

func (k *NodeKey) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("scan node key: null value")
	default:
		return fmt.Errorf("scan node key: unsupported type %T", src)
	}
	parsed, err := ParseNodeKey(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k NodeKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *NodeKey) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PositionPath is the zero-padded display path of an item. Queries order by
// phase_id and item_index; the path only sorts lexically below 10000.
func PositionPath(phaseID, itemIndex int) string {
	return fmt.Sprintf("%04d.%04d", phaseID, itemIndex)
}

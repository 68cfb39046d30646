package api

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/quorum/pkg/store"
)

// decodeTransactions parses the wire form of a transaction batch: an array
// of transactions, each an array of one or two objects — writes first,
// preconditions second.
//
//	[
//	  [ {"/arango/a": {"op": "push", "new": 1}}, {"/arango/a": {"isArray": true}} ],
//	  [ {"/arango/b": 12} ]
//	]
//
// A write value that is not an operation object is a plain set.
func decodeTransactions(data []byte) ([]store.Transaction, error) {
	var raw [][]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode transaction batch: %w", err)
	}

	txs := make([]store.Transaction, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 1 || len(entry) > 2 {
			return nil, fmt.Errorf("transaction %d: expected [writes] or [writes, preconditions]", i)
		}

		b := store.NewTransaction()
		for path, value := range entry[0] {
			if err := decodeWrite(b, path, value); err != nil {
				return nil, fmt.Errorf("transaction %d: %w", i, err)
			}
		}
		if len(entry) == 2 {
			for path, value := range entry[1] {
				if err := decodePrecondition(b, path, value); err != nil {
					return nil, fmt.Errorf("transaction %d: %w", i, err)
				}
			}
		}
		txs = append(txs, b.Commit())
	}
	return txs, nil
}

func decodeWrite(b *store.TxBuilder, path string, value interface{}) error {
	obj, ok := value.(map[string]interface{})
	if !ok {
		b.Set(path, value)
		return nil
	}
	opName, ok := obj["op"].(string)
	if !ok {
		// An object without an op field replaces the subtree.
		b.Set(path, obj)
		return nil
	}

	switch opName {
	case "set":
		b.Set(path, obj["new"])
	case "delete":
		b.Delete(path)
	case "push":
		b.Push(path, obj["new"])
	case "pop":
		b.Pop(path)
	case "shift":
		b.Shift(path)
	case "unshift":
		b.Unshift(path, obj["new"])
	case "merge":
		m, ok := obj["new"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("merge at %s requires an object", path)
		}
		b.Merge(path, m)
	default:
		return fmt.Errorf("unknown operation %q at %s", opName, path)
	}
	return nil
}

func decodePrecondition(b *store.TxBuilder, path string, value interface{}) error {
	obj, ok := value.(map[string]interface{})
	if !ok {
		b.Old(path, value)
		return nil
	}

	if v, ok := obj["oldEmpty"]; ok {
		empty, ok := v.(bool)
		if !ok {
			return fmt.Errorf("oldEmpty at %s requires a bool", path)
		}
		b.OldEmpty(path, empty)
		return nil
	}
	if v, ok := obj["isArray"]; ok {
		isArray, ok := v.(bool)
		if !ok {
			return fmt.Errorf("isArray at %s requires a bool", path)
		}
		b.IsArray(path, isArray)
		return nil
	}
	if v, ok := obj["in"]; ok {
		b.In(path, v)
		return nil
	}
	if v, ok := obj["notIn"]; ok {
		b.NotIn(path, v)
		return nil
	}
	if v, ok := obj["old"]; ok {
		b.Old(path, v)
		return nil
	}

	// A plain object is compared literally.
	b.Old(path, obj)
	return nil
}

package hierarchy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/hierflat/internal/domain"
)

// ExtractNode adapts one raw record into a Node. A nil or blank parent value
// marks the record as the root candidate.
func ExtractNode(record domain.Record, seq int, parentField, childField string) (domain.Node, error) {
	childValue := record[childField]
	if isBlank(childValue) {
		return domain.Node{}, &domain.MissingKeyError{Row: seq, Field: childField}
	}

	node := domain.Node{
		ID:         FormatKey(childValue),
		Attributes: record.Clone(),
		Seq:        seq,
	}
	if parentValue := record[parentField]; !isBlank(parentValue) {
		node.ParentID = FormatKey(parentValue)
		node.HasParent = true
	}
	return node, nil
}

// ExtractNodes converts every record, failing on the first one without a
// child key.
func ExtractNodes(records []domain.Record, parentField, childField string) ([]domain.Node, error) {
	nodes := make([]domain.Node, 0, len(records))
	for i, record := range records {
		node, err := ExtractNode(record, i, parentField, childField)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// FormatKey renders a key value so that parent and child columns of
// different numeric types still compare equal (e.g. int64(7) and 7.0).
func FormatKey(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloatKey(float64(v))
	case float64:
		return formatFloatKey(v)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFloatKey(f float64) string {
	if math.Mod(f, 1) == 0 && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []byte:
		return strings.TrimSpace(string(v)) == ""
	default:
		return false
	}
}

package orchestrator

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aescanero/dago-testrun/pkg/domain"
)

// NormalizeRunResult rewrites the legacy "Warn" error level to "warning" on
// every node result and on every item of a node's serialized batch. Batch
// payloads that are not a JSON array are left untouched and reported.
func NormalizeRunResult(result *domain.RunResult) error {
	if result == nil {
		return nil
	}

	var firstErr error
	for i := range result.NodeResults {
		node := &result.NodeResults[i]
		if node.ErrorLevel == domain.ErrorLevelLegacyWarn {
			node.ErrorLevel = domain.ErrorLevelWarning
		}
		if node.Batch == "" {
			continue
		}
		batch, err := normalizeBatch(node.Batch)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("node %s: %w", node.NodeID, err)
			}
			continue
		}
		node.Batch = batch
	}
	return firstErr
}

// normalizeBatch edits the batch in place so key order and formatting survive
func normalizeBatch(batch string) (string, error) {
	if !gjson.Valid(batch) {
		return batch, fmt.Errorf("batch is not valid JSON")
	}
	parsed := gjson.Parse(batch)
	if !parsed.IsArray() {
		return batch, fmt.Errorf("batch is not a JSON array")
	}

	out := batch
	var err error
	for i, item := range parsed.Array() {
		if item.Get("errorLevel").String() != string(domain.ErrorLevelLegacyWarn) ||
			item.Get("errorLevel").Type != gjson.String {
			continue
		}
		out, err = sjson.Set(out, strconv.Itoa(i)+".errorLevel", string(domain.ErrorLevelWarning))
		if err != nil {
			return batch, fmt.Errorf("rewrite batch item %d: %w", i, err)
		}
	}
	return out, nil
}

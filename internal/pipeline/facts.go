package pipeline

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/harvester/internal/bus"
	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/wire"
)

// Fact types accepted from producers.
const (
	FactError           = "err"
	FactAjax            = "xhr"
	FactInteraction     = "interaction"
	FactPageAction      = "api-addPageAction"
	FactCustomAttribute = "api-setCustomAttribute"
	FactSupportability  = "storeSupportabilityMetrics"
	FactEventMetric     = "storeEventMetrics"
)

// GroupFor returns the backlog group a fact type is buffered in.
func GroupFor(typ string) string {
	if strings.HasPrefix(typ, "api-") {
		return bus.GroupAPI
	}
	return bus.GroupFeature
}

func invalidFact(typ, reason string) error {
	return errors.New().WithData(ErrInvalidFact, fmt.Sprintf("%s: %s", typ, reason))
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringArg(args []any, i int) (string, bool) {
	s, ok := argAt(args, i).(string)
	return s, ok
}

func numberArg(args []any, i int) (float64, bool) {
	return toNumber(argAt(args, i))
}

// toNumber accepts any Go numeric type; JSON-decoded facts carry float64.
func toNumber(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	default:
		return 0, false
	}
}

func mapArg(args []any, i int) (map[string]any, bool) {
	m, ok := argAt(args, i).(map[string]any)
	return m, ok
}

// decodeArg converts a JSON-shaped argument (as produced by decoding a
// fact line) into out.
func decodeArg(v any, out any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return errors.New().Wrap(ErrInvalidFact, err)
	}
	if err := wire.Unmarshal(data, out); err != nil {
		return errors.New().Wrap(ErrInvalidFact, err)
	}
	return nil
}

package transcribe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/s1a-ledger/internal/domain"
)

// decodeTransaction reads the model's JSON object. Missing fields stay empty;
// a reply that is not an object, or has fields of the wrong type, is an error.
func decodeTransaction(raw string) (PartialTransaction, error) {
	clean := cleanModelJSON(raw)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return PartialTransaction{}, fmt.Errorf("decodeTransaction: unmarshal JSON: %w", err)
	}
	if obj == nil {
		return PartialTransaction{}, fmt.Errorf("decodeTransaction: reply is null")
	}

	date, err := getStringField(obj, "date")
	if err != nil {
		return PartialTransaction{}, fmt.Errorf("decodeTransaction: %w", err)
	}
	desc, err := getStringField(obj, "description")
	if err != nil {
		return PartialTransaction{}, fmt.Errorf("decodeTransaction: %w", err)
	}
	amount, err := getAmountField(obj, "amount")
	if err != nil {
		return PartialTransaction{}, fmt.Errorf("decodeTransaction: %w", err)
	}

	return PartialTransaction{
		Date:        strings.TrimSpace(date),
		Description: strings.TrimSpace(desc),
		Amount:      amount,
	}, nil
}

// cleanModelJSON strips Markdown fences and any prose around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

func getStringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

// getAmountField accepts a number, or digits in a string as some replies quote them.
func getAmountField(m map[string]interface{}, key string) (int64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch val := v.(type) {
	case float64:
		return domain.NormalizeAmount(val), nil
	case string:
		return domain.ParseAmount(val), nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

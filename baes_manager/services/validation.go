package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 50

// requireName validates a mandatory string field, returning the trimmed value.
func requireName(value *string, missingMsg string, maxLen int) (string, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return "", badRequest(missingMsg)
	}
	return checkLength(*value, maxLen)
}

// optionalName validates a string field of a partial update. A nil value means the
// field was not supplied.
func optionalName(value *string, field string, maxLen int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	if strings.TrimSpace(*value) == "" {
		return nil, badRequest(fmt.Sprintf("Le champ %s ne peut pas être vide", field))
	}
	name, err := checkLength(*value, maxLen)
	if err != nil {
		return nil, err
	}
	return &name, nil
}

func checkLength(value string, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > maxLen {
		return "", badRequest(fmt.Sprintf("La valeur '%s' dépasse %d caractères", value, maxLen))
	}
	return value, nil
}

// jsonList checks that raw holds a json array, used for polygon boundaries.
func jsonList(raw json.RawMessage, field string) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return badRequest(fmt.Sprintf("Le champ %s doit être une liste", field))
	}
	return nil
}

// jsonObjectOrList checks that raw holds a json object or array, used for positions.
func jsonObjectOrList(raw json.RawMessage, field string) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid(raw) {
			return nil
		}
	}
	return badRequest(fmt.Sprintf("Le champ %s doit être un objet ou une liste de coordonnées", field))
}

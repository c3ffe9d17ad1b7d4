package checkpoint

import (
	"encoding/json"
)

func encodeAux(aux map[string]string) (string, error) {
	if len(aux) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(aux)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeAux(s string) (map[string]string, error) {
	if s == "" || s == "{}" || s == "null" {
		return nil, nil
	}
	var aux map[string]string
	if err := json.Unmarshal([]byte(s), &aux); err != nil {
		return nil, err
	}
	return aux, nil
}

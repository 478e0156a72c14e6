package erc8004

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const dataURIPrefix = "data:application/json;base64,"

// EncodeDataURI serialises v as a base64 JSON data URI for on-chain storage.
func EncodeDataURI(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeURI returns the JSON object carried by uri: a base64 data URI or a
// bare JSON document. Anything else, including https and ipfs links,
// yields nil.
func DecodeURI(uri string) map[string]any {
	raw := []byte(uri)
	if strings.HasPrefix(uri, dataURIPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
		if err != nil {
			return nil
		}
		raw = decoded
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// DecodeRegistration decodes uri into a Registration when it carries one.
func DecodeRegistration(uri string) *Registration {
	doc := DecodeURI(uri)
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil
	}
	return &reg
}

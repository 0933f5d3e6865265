package wire

import "github.com/bytedance/sonic"

var jsonConfig = sonic.ConfigStd

// Stringify encodes v as JSON with sorted map keys.
func Stringify(v any) (string, error) {
	return jsonConfig.MarshalToString(v)
}

// Marshal encodes v as JSON bytes.
func Marshal(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

// Unmarshal decodes JSON into v.
func Unmarshal(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

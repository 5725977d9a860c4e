package cos

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MustMarshal marshals v and panics on error; only ever called on
// types we construct ourselves, where a marshal error is a programmer bug.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func MarshalJSON(v any) ([]byte, error) { return json.Marshal(v) }
func UnmarshalJSON(data []byte, v any) error { return json.Unmarshal(data, v) }

package speech

import (
	"encoding/base64"
	"errors"
)

// DecodePayload decodes a standard, padded base64 string into raw bytes.
// Invalid characters or padding yield a *DecodeError. An empty string
// decodes to an empty slice.
func DecodePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return nil, &DecodeError{Offset: int64(corrupt), Err: err}
		}
		return nil, &DecodeError{Offset: -1, Err: err}
	}
	return data, nil
}

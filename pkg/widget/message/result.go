package message

import "encoding/json"

// errorPayload is the wire shape of a failed response, per §6: distinguishable
// from a successful payload by the presence of this "error" field.
type errorPayload struct {
	Error string `json:"error"`
}

// EncodeOk builds a successful response frame.
func EncodeOk(header Header, api Direction, action string, payload any) ([]byte, error) {
	return Encode(header, api, action, KindResponse, payload)
}

// EncodeErr builds a failed response frame carrying a human-readable message.
func EncodeErr(header Header, api Direction, action string, message string) ([]byte, error) {
	return Encode(header, api, action, KindResponse, errorPayload{Error: message})
}

// AsError inspects a response payload and reports whether it encodes an
// error, returning the message if so. A payload that happens to contain an
// "error" field with an empty string is treated as a success, matching the
// grammar's requirement that the field be populated to signal failure.
func AsError(data json.RawMessage) (string, bool) {
	var e errorPayload
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error, true
	}
	return "", false
}

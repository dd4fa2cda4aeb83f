// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package protocol

import (
	"encoding/base64"
	"fmt"
)

// IsBinarySchemaEncoding reports whether schemas in encoding are binary and
// travel base64-encoded inside JSON messages.
func IsBinarySchemaEncoding(encoding string) bool {
	return encoding == "protobuf" || encoding == "flatbuffer"
}

// EncodeSchemaData renders schema bytes for a JSON message.
func EncodeSchemaData(encoding string, data []byte) string {
	if IsBinarySchemaEncoding(encoding) {
		return base64.StdEncoding.EncodeToString(data)
	}
	return string(data)
}

// DecodeSchemaData reverses EncodeSchemaData.
func DecodeSchemaData(encoding, text string) ([]byte, error) {
	if !IsBinarySchemaEncoding(encoding) {
		return []byte(text), nil
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s schema is not valid base64: %v", ErrMalformed, encoding, err)
	}
	return data, nil
}

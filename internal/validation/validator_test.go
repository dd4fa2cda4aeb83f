// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil || v1 != v2 {
		t.Error("GetValidator() should return one non-nil instance")
	}
}

type channelRequest struct {
	ID       uint32 `json:"id" validate:"required"`
	Topic    string `json:"topic" validate:"required,printable,max=16"`
	Encoding string `json:"encoding" validate:"oneof=json protobuf"`
}

type advertiseRequest struct {
	Channels []channelRequest `json:"channels" validate:"required,min=1,dive"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     advertiseRequest
		wantField string
		wantTag   string
		wantMsg   string
	}{
		{
			name:  "valid",
			input: advertiseRequest{Channels: []channelRequest{{ID: 1, Topic: "/cmd", Encoding: "json"}}},
		},
		{
			name:      "no channels",
			input:     advertiseRequest{},
			wantField: "channels",
			wantTag:   "required",
			wantMsg:   "channels is required",
		},
		{
			name:      "empty channel list",
			input:     advertiseRequest{Channels: []channelRequest{}},
			wantField: "channels",
			wantTag:   "min",
			wantMsg:   "channels must be at least 1 items",
		},
		{
			name:      "missing id",
			input:     advertiseRequest{Channels: []channelRequest{{Topic: "/a", Encoding: "json"}}},
			wantField: "channels[0].id",
			wantTag:   "required",
		},
		{
			name:      "control character in topic",
			input:     advertiseRequest{Channels: []channelRequest{{ID: 1, Topic: "/a\x00b", Encoding: "json"}}},
			wantField: "channels[0].topic",
			wantTag:   "printable",
			wantMsg:   "channels[0].topic must not contain control characters",
		},
		{
			name:      "topic too long",
			input:     advertiseRequest{Channels: []channelRequest{{ID: 1, Topic: strings.Repeat("t", 17), Encoding: "json"}}},
			wantField: "channels[0].topic",
			wantTag:   "max",
			wantMsg:   "channels[0].topic must be at most 16 characters",
		},
		{
			name:      "bad encoding",
			input:     advertiseRequest{Channels: []channelRequest{{ID: 1, Topic: "/a", Encoding: "xml"}}},
			wantField: "channels[0].encoding",
			wantTag:   "oneof",
			wantMsg:   "channels[0].encoding must be one of: json protobuf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("ValidateStruct() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField || errs[0].Tag() != tt.wantTag {
				t.Errorf("field=%q tag=%q, want %q %q", errs[0].Field(), errs[0].Tag(), tt.wantField, tt.wantTag)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateStruct_MultipleErrorsJoined(t *testing.T) {
	in := advertiseRequest{Channels: []channelRequest{{Encoding: "xml"}}}
	err := ValidateStruct(&in)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Errors()) != 3 {
		t.Errorf("got %d errors: %v", len(err.Errors()), err)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("Error() = %q, want joined messages", err.Error())
	}
}

func TestRequestValidationError_Empty(t *testing.T) {
	if got := (&RequestValidationError{}).Error(); got != "validation failed" {
		t.Errorf("Error() = %q", got)
	}
}

package commsutil

import (
	"testing"
)

const codecTestPrefix = "commsutil:codec_test"

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    string
		wantErr bool
	}{
		{name: "map", input: map[string]string{"route": "/echo"}, want: `{"route":"/echo"}`},
		{name: "struct", input: struct{ Route string }{Route: "/x"}, want: `{"Route":"/x"}`},
		{name: "nil", input: nil, want: "null"},
		{name: "channel is not serializable", input: make(chan int), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error but got nil", codecTestPrefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
			}
			if got := string(data); got != tt.want {
				t.Errorf("%s - EncodePayload() = %q, want %q", codecTestPrefix, got, tt.want)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	var out struct {
		Route string `json:"route"`
		OK    bool   `json:"ok"`
	}
	if err := DecodePayload([]byte(`{"route":"/a","ok":true}`), &out); err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if out.Route != "/a" || !out.OK {
		t.Errorf("%s - decoded %+v", codecTestPrefix, out)
	}

	for _, bad := range []string{"", "{invalid}"} {
		if err := DecodePayload([]byte(bad), &out); err == nil {
			t.Errorf("%s - expected error for %q", codecTestPrefix, bad)
		}
	}
}

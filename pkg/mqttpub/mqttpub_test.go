package mqttpub

import (
	"reflect"
	"testing"
)

func TestSetTarget(t *testing.T) {
	tests := []struct {
		topic string
		name  string
		ok    bool
	}{
		{"gorig/rx_frequency/set", "rx_frequency", true},
		{"gorig/tuner[1]/set", "tuner[1]", true},
		{"gorig/rx_frequency", "", false},
		{"other/rx_frequency/set", "", false},
		{"gorig//set", "", false},
		{"gorig/a/b/set", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			name, ok := SetTarget("gorig", tt.topic)
			if name != tt.name || ok != tt.ok {
				t.Errorf("SetTarget() = %q, %v, want %q, %v", name, ok, tt.name, tt.ok)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
		wantErr bool
	}{
		{"wrapped int", `{"value": 14074000}`, 14074000, false},
		{"bare int", `7`, 7, false},
		{"bool", `{"value": true}`, true, false},
		{"float", `1.5`, 1.5, false},
		{"list", `{"value": [1, true, null]}`, []any{1, true, nil}, false},
		{"missing value", `{"v": 1}`, nil, true},
		{"garbage", `{`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode([]any{true, nil})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"value":[true,null]}` {
		t.Errorf("Encode() = %s", b)
	}
}

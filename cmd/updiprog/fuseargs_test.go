package main

import (
	"reflect"
	"testing"
)

func TestParseWriteGroups(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    []WriteGroup
		wantErr bool
	}{
		{
			name: "single group single value",
			arg:  "1050:c5",
			want: []WriteGroup{{Addr: 0x1050, Values: []byte{0xC5}}},
		},
		{
			name: "single group multiple values",
			arg:  "1050:c5;ff;00",
			want: []WriteGroup{{Addr: 0x1050, Values: []byte{0xC5, 0xFF, 0x00}}},
		},
		{
			name: "multiple groups",
			arg:  "1050:c5|1080:aa;bb",
			want: []WriteGroup{
				{Addr: 0x1050, Values: []byte{0xC5}},
				{Addr: 0x1080, Values: []byte{0xAA, 0xBB}},
			},
		},
		{name: "empty", arg: "", wantErr: true},
		{name: "missing colon", arg: "1050", wantErr: true},
		{name: "bad address", arg: "zz:c5", wantErr: true},
		{name: "bad value", arg: "1050:zz", wantErr: true},
		{name: "group with no values", arg: "1050:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWriteGroups(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseWriteGroups(%q) = %v, want error", tt.arg, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWriteGroups(%q): %v", tt.arg, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseWriteGroups(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestParseReadGroups(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    []ReadGroup
		wantErr bool
	}{
		{
			name: "single group",
			arg:  "8000:16",
			want: []ReadGroup{{Addr: 0x8000, Count: 16}},
		},
		{
			name: "multiple groups",
			arg:  "8000:4|1400:8",
			want: []ReadGroup{{Addr: 0x8000, Count: 4}, {Addr: 0x1400, Count: 8}},
		},
		{name: "empty", arg: "", wantErr: true},
		{name: "zero count", arg: "8000:0", wantErr: true},
		{name: "non-numeric count", arg: "8000:xx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReadGroups(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseReadGroups(%q) = %v, want error", tt.arg, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReadGroups(%q): %v", tt.arg, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseReadGroups(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

package util

import (
	"reflect"
	"testing"
)

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", DefaultEndpoint},
		{"already ws", "ws://host:8765/adminws", "ws://host:8765/adminws"},
		{"http", "http://host:8765/adminws", "ws://host:8765/adminws"},
		{"https", "https://map.example.com/adminws", "wss://map.example.com/adminws"},
		{"snapshot path", "http://host:8765/snapshot", "ws://host:8765/adminws"},
		{"surrounding spaces", "  ws://h/x  ", "ws://h/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeWSURL(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeWSURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSnapshotURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", "http://127.0.0.1:8765/snapshot"},
		{"adminws", "ws://host:8765/adminws", "http://host:8765/snapshot"},
		{"wss", "wss://map.example.com/adminws/", "https://map.example.com/snapshot"},
		{"already snapshot", "http://host/snapshot", "http://host/snapshot"},
		{"bare host", "http://host:8765", "http://host:8765/snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SnapshotURL(tt.input)
			if result != tt.expected {
				t.Errorf("SnapshotURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseTagList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single", "[xxx]", []string{"[xxx]"}},
		{"mixed separators", "a, b;c  d，e；f", []string{"a", "b", "c", "d", "e", "f"}},
		{"leading separators", " ,,a", []string{"a"}},
		{"capped", "1 2 3 4 5 6 7 8 9 10 11 12 13 14", []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseTagList(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ParseTagList(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		subs     []string
		expected bool
	}{
		{"no subs", "abc", nil, false},
		{"match", "[xxx] Steve", []string{"[yyy]", "[xxx]"}, true},
		{"case sensitive", "[XXX] Steve", []string{"[xxx]"}, false},
		{"empty sub ignored", "abc", []string{""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ContainsAny(tt.s, tt.subs)
			if result != tt.expected {
				t.Errorf("ContainsAny(%q, %v) = %v, want %v", tt.s, tt.subs, result, tt.expected)
			}
		})
	}
}

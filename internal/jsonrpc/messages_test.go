package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequestEncode(t *testing.T) {
	req := NewRequest(100, "tools/list", map[string]any{})

	data, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("Encoded request must be newline-terminated")
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Encoded request is not valid JSON: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("Expected jsonrpc 2.0, got %v", decoded["jsonrpc"])
	}
	if decoded["method"] != "tools/list" {
		t.Errorf("Expected method tools/list, got %v", decoded["method"])
	}
	if decoded["id"] != float64(100) {
		t.Errorf("Expected id 100, got %v", decoded["id"])
	}
}

func TestParseResponseResult(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"jsonrpc":"2.0","id":100,"result":{"tools":[]}}`))
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !resp.ID.EqualsNumber(100) {
		t.Error("Expected ID to equal 100")
	}
	if resp.Error != nil {
		t.Error("Expected no error member")
	}
	if resp.Result == nil {
		t.Error("Expected result member")
	}
}

func TestParseResponseError(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"jsonrpc":"2.0","id":101,"error":{"code":-32001,"message":"Visit: https://example.com/oauth"}}`))
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("Expected error member")
	}
	if resp.Error.Code != -32001 {
		t.Errorf("Expected code -32001, got %d", resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "oauth") {
		t.Errorf("Expected oauth URL in message, got %q", resp.Error.Message)
	}
}

func TestParseResponseRejectsNonResponses(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"jsonrpc":"1.0","id":1,"result":{}}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"some":"log line"}`,
	}
	for _, input := range cases {
		if _, err := ParseResponse([]byte(input)); err == nil {
			t.Errorf("Expected parse failure for %q", input)
		}
	}
}

func TestIDEqualsNumberAcceptsStringEcho(t *testing.T) {
	var resp Response
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"101","result":{}}`), &resp); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !resp.ID.EqualsNumber(101) {
		t.Error("String-echoed numeric ID should still correlate")
	}
}

package dispatch

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://developer.apple.com/documentation/swiftui", "https://developer.apple.com/documentation/swiftui", false},
		{"  https://developer.apple.com/doc  ", "https://developer.apple.com/doc", false},
		{"https://Developer.Apple.COM/documentation", "https://developer.apple.com/documentation", false},
		{"https://youtu.be/abc123", "https://youtube.com/watch?v=abc123", false},
		{"http://youtu.be/xyz/", "http://youtube.com/watch?v=xyz", false},
		{"", "", true},
		{"developer.apple.com/documentation", "", true},
		{"ftp://example.com/file", "", true},
		{"https://", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeURL(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeURL(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeURL_ErrorsAreInvalidParams(t *testing.T) {
	_, err := NormalizeURL("not a url")
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T", err)
	}
	if rpcErr.Code != CodeInvalidParams {
		t.Errorf("expected code %d, got %d", CodeInvalidParams, rpcErr.Code)
	}
}

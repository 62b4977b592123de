package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSRFGuard_ImplementsInterface(t *testing.T) {
	var _ SSRFGuard = NewSSRFGuard()
}

func TestNewSafeClient_TimeoutAndTransport(t *testing.T) {
	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("safe client must use a custom transport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlが接続を拒否する。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected loopback request to be blocked")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"ニュース検索テンプレート", "https://news.google.com/rss/search?q=%s+stock&hl=en-US", false},
		{"http", "http://feeds.example.org/finance", false},
		{"空文字列", "", true},
		{"ftpスキーム", "ftp://example.com/feed", true},
		{"ホストなし", "https:///path", true},
		{"プライベートIP", "http://10.0.0.5/feed", true},
		{"172.16レンジ", "http://172.20.1.1/feed", true},
		{"ループバック", "http://127.0.0.1:8080/feed", true},
		{"localhost", "http://LOCALHOST/feed", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/", true},
		{"IPv6ループバック", "http://[::1]/feed", true},
		{"ゼロアドレス", "http://0.0.0.0/feed", true},
		{"公開IP", "https://93.184.216.34/feed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

package linear

import (
	"net/http"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient("test-api-key", "MAP")

	if client.APIKey != "test-api-key" {
		t.Errorf("APIKey = %q, want %q", client.APIKey, "test-api-key")
	}
	if client.Team != "MAP" {
		t.Errorf("Team = %q, want %q", client.Team, "MAP")
	}
	if client.Endpoint != DefaultAPIEndpoint {
		t.Errorf("Endpoint = %q, want %q", client.Endpoint, DefaultAPIEndpoint)
	}
	if client.HTTPClient == nil {
		t.Error("HTTPClient should not be nil")
	}
}

func TestWithEndpoint(t *testing.T) {
	client := NewClient("key", "MAP")
	customEndpoint := "https://custom.linear.app/graphql"

	newClient := client.WithEndpoint(customEndpoint)

	if newClient.Endpoint != customEndpoint {
		t.Errorf("Endpoint = %q, want %q", newClient.Endpoint, customEndpoint)
	}
	// Original should be unchanged
	if client.Endpoint != DefaultAPIEndpoint {
		t.Errorf("Original endpoint changed: %q", client.Endpoint)
	}
	// Other fields preserved
	if newClient.APIKey != "key" {
		t.Errorf("APIKey not preserved: %q", newClient.APIKey)
	}
}

func TestWithHTTPClient(t *testing.T) {
	client := NewClient("key", "MAP")
	customHTTPClient := &http.Client{Timeout: 60 * time.Second}

	newClient := client.WithHTTPClient(customHTTPClient)

	if newClient.HTTPClient != customHTTPClient {
		t.Error("HTTPClient not set correctly")
	}
	if newClient.APIKey != "key" {
		t.Errorf("APIKey not preserved: %q", newClient.APIKey)
	}
	if newClient.Endpoint != DefaultAPIEndpoint {
		t.Errorf("Endpoint not preserved: %q", newClient.Endpoint)
	}
}

func TestWithRetryInterval(t *testing.T) {
	client := NewClient("key", "MAP")

	newClient := client.WithRetryInterval(time.Millisecond)

	if newClient.retryInterval != time.Millisecond {
		t.Errorf("retryInterval = %v, want %v", newClient.retryInterval, time.Millisecond)
	}
	if client.retryInterval != defaultRetryInterval {
		t.Errorf("original retryInterval changed: %v", client.retryInterval)
	}
}

func TestExtractIdentifier(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want string
	}{
		{
			name: "standard URL",
			ref:  "https://linear.app/team/issue/PROJ-123",
			want: "PROJ-123",
		},
		{
			name: "URL with slug",
			ref:  "https://linear.app/team/issue/PROJ-456/some-title-here",
			want: "PROJ-456",
		},
		{
			name: "URL with trailing slash",
			ref:  "https://linear.app/team/issue/ABC-789/",
			want: "ABC-789",
		},
		{
			name: "non-linear URL",
			ref:  "https://jira.example.com/browse/PROJ-123",
			want: "",
		},
		{
			name: "empty string",
			ref:  "",
			want: "",
		},
		{
			name: "malformed URL",
			ref:  "not-a-url",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractIdentifier(tt.ref)
			if got != tt.want {
				t.Errorf("ExtractIdentifier(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestIsIssueRef(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"https://linear.app/team/issue/PROJ-123", true},
		{"https://linear.app/team/issue/PROJ-123/slug", true},
		{"https://jira.example.com/browse/PROJ-123", false},
		{"https://github.com/org/repo/issues/123", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := IsIssueRef(tt.ref)
			if got != tt.want {
				t.Errorf("IsIssueRef(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeRef(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want string
		ok   bool
	}{
		{
			name: "slugged url",
			ref:  "https://linear.app/crown-dev/issue/MAP-93/updated-title",
			want: "https://linear.app/crown-dev/issue/MAP-93",
			ok:   true,
		},
		{
			name: "canonical url",
			ref:  "https://linear.app/crown-dev/issue/MAP-93",
			want: "https://linear.app/crown-dev/issue/MAP-93",
			ok:   true,
		},
		{
			name: "not linear",
			ref:  "https://example.com/issues/MAP-93",
			want: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		got, ok := CanonicalizeRef(tt.ref)
		if ok != tt.ok {
			t.Fatalf("%s: ok=%v, want %v", tt.name, ok, tt.ok)
		}
		if got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRepoSlug(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/mapache/app", "mapache/app"},
		{"https://github.com/mapache/app/pull/12", "mapache/app"},
		{"https://github.com/mapache/bridge-sync.git", "mapache/bridge-sync"},
		{"https://docs.example.com/runbook", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RepoSlug(tt.url); got != tt.want {
			t.Errorf("RepoSlug(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestBuildInfo(t *testing.T) {
	info := BuildInfo()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if _, ok := info[k]; !ok {
			t.Errorf("BuildInfo() missing key %q", k)
		}
	}
	if info["go_version"] != runtime.Version() {
		t.Errorf("go_version = %q, want %q", info["go_version"], runtime.Version())
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, ClientName+"/"+Version+" ") {
		t.Errorf("UserAgent() = %q, want prefix %q", ua, ClientName+"/"+Version)
	}
	if !strings.Contains(ua, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("UserAgent() = %q, missing platform", ua)
	}
}

func TestClientInfo(t *testing.T) {
	info := ClientInfo()
	if info["name"] != ClientName {
		t.Errorf("name = %v, want %q", info["name"], ClientName)
	}
	if info["version"] != Version {
		t.Errorf("version = %v, want %q", info["version"], Version)
	}
}

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = old })

	if s := String(); !strings.Contains(s, "1.2.3") {
		t.Errorf("String() = %q, missing version", s)
	}
}

package browser

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Setenv("CHROME_BIN", "/opt/chrome/chrome")

	f := New()
	if f.wait != 2*time.Second {
		t.Errorf("wait = %v, want %v", f.wait, 2*time.Second)
	}
	if f.timeout != 60*time.Second {
		t.Errorf("timeout = %v, want %v", f.timeout, 60*time.Second)
	}
	if f.execPath != "/opt/chrome/chrome" {
		t.Errorf("execPath = %q, want CHROME_BIN", f.execPath)
	}

	f = New(WithWait(time.Second), WithTimeout(5*time.Second), WithExecPath("/usr/bin/chromium"))
	if f.wait != time.Second || f.timeout != 5*time.Second || f.execPath != "/usr/bin/chromium" {
		t.Errorf("options not applied: %+v", f)
	}
	if n := len(f.allocatorOptions()); n == 0 {
		t.Error("allocatorOptions() returned no options")
	}
}

func TestHTTPLinks(t *testing.T) {
	in := []string{
		"https://a.example/lot/1#bids",
		"https://a.example/lot/1",
		"mailto:info@a.example",
		"javascript:void(0)",
		"http://a.example/lot/2",
	}
	got := httpLinks(in)
	want := []string{"https://a.example/lot/1", "http://a.example/lot/2"}
	if len(got) != len(want) {
		t.Fatalf("httpLinks() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("httpLinks()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

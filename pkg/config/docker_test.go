package config

import "testing"

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	// Non-loopback hosts pass through regardless of where the process runs.
	for _, host := range []string{"db.lexitau.internal", "10.0.3.17", "host.docker.internal"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHostForDocker_Loopback(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		got := ResolveHostForDocker(host)
		if IsRunningInDocker() {
			if got != "host.docker.internal" {
				t.Errorf("ResolveHostForDocker(%q) = %q, want host.docker.internal", host, got)
			}
		} else if got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged outside Docker", host, got)
		}
	}
}

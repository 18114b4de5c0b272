package cmdbuild

import (
	"testing"

	"deployctl/m/v2/internal/descriptor"
)

func strp(s string) *string { return &s }
func u16p(v uint16) *uint16 { return &v }

// Property 1: the activate command string matches deploy-rs byte for byte.
func TestActivateGolden(t *testing.T) {
	got := Activate(ActivateData{
		Sudo:           strp("sudo -u test"),
		ProfileInfo:    descriptor.ProfilePath{Path: "/blah/profiles/test"},
		Closure:        "/nix/store/blah/etc",
		AutoRollback:   true,
		TempPath:       "/tmp",
		ConfirmTimeout: 30,
		MagicRollback:  true,
		DebugLogs:      true,
		LogDir:         strp("/tmp/something.txt"),
	})

	want := "sudo -u test /nix/store/blah/etc/activate-rs --debug-logs --log-dir /tmp/something.txt activate '/nix/store/blah/etc' --profile-path '/blah/profiles/test' --temp-path '/tmp' --confirm-timeout 30 --magic-rollback --auto-rollback"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

// Property 2: the wait command string matches deploy-rs byte for byte.
func TestWaitGolden(t *testing.T) {
	got := Wait(WaitData{
		Sudo:              strp("sudo -u test"),
		Closure:           "/nix/store/blah/etc",
		TempPath:          "/tmp",
		ActivationTimeout: u16p(600),
		DebugLogs:         true,
		LogDir:            strp("/tmp/something.txt"),
	})

	want := "sudo -u test /nix/store/blah/etc/activate-rs --debug-logs --log-dir /tmp/something.txt wait '/nix/store/blah/etc' --temp-path '/tmp' --activation-timeout 600"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

// Property 3: the revoke command string matches deploy-rs byte for byte.
func TestRevokeGolden(t *testing.T) {
	got := Revoke(RevokeData{
		Sudo:        strp("sudo -u test"),
		Closure:     "/nix/store/blah/etc",
		ProfileInfo: descriptor.ProfilePath{Path: "/nix/var/nix/per-user/user/profile"},
		DebugLogs:   true,
		LogDir:      strp("/tmp/something.txt"),
	})

	want := "sudo -u test /nix/store/blah/etc/activate-rs --debug-logs --log-dir /tmp/something.txt revoke --profile-path '/nix/var/nix/per-user/user/profile'"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestActivateWithProfileUserAndName(t *testing.T) {
	got := Activate(ActivateData{
		ProfileInfo:    descriptor.ProfileUserAndName{User: "deploy", Name: "system"},
		Closure:        "/nix/store/blah",
		TempPath:       "/tmp",
		ConfirmTimeout: 30,
	})
	want := "/nix/store/blah/activate-rs activate '/nix/store/blah' --profile-user deploy --profile-name system --temp-path '/tmp' --confirm-timeout 30"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestWaitWithoutActivationTimeout(t *testing.T) {
	got := Wait(WaitData{Closure: "/nix/store/blah", TempPath: "/tmp"})
	want := "/nix/store/blah/activate-rs wait '/nix/store/blah' --temp-path '/tmp'"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestSanitizeLockPath(t *testing.T) {
	got := SanitizeLockPath("/nix/store/abc123-something/etc")
	want := "_nix_store_abc123-something_etc"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeLockPathPassesThroughSafeChars(t *testing.T) {
	got := SanitizeLockPath("abc123._-XYZ")
	want := "abc123._-XYZ"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// Property 10: the lock path carries the literal "canary-" segment and no
// ".lock" suffix, matching the path the real activate-rs binary creates on
// activation and the one confirm must remove.
func TestMakeLockPath(t *testing.T) {
	got := MakeLockPath("/tmp", "/nix/store/abc123-something/etc")
	want := "/tmp/deploy-rs-canary-_nix_store_abc123-something_etc"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMakeLockPathTrimsTrailingSlash(t *testing.T) {
	got := MakeLockPath("/tmp/", "/nix/store/blah")
	want := "/tmp/deploy-rs-canary-_nix_store_blah"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

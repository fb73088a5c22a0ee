package assets

import (
	"strings"
	"testing"
)

func TestIssue(t *testing.T) {
	issuer := NewIssuer("https://s3.amazonaws.com/harmony-bucket/")

	target := issuer.Issue("kick drum.wav", "audio/wav")
	if target.AssetID == "" {
		t.Fatal("no asset id")
	}
	if target.UploadURL != target.PublicURL {
		t.Fatalf("upload and public url differ: %q vs %q", target.UploadURL, target.PublicURL)
	}
	// trailing slash of the bucket url is normalized away
	if !strings.HasPrefix(target.UploadURL, "https://s3.amazonaws.com/harmony-bucket/"+target.AssetID+"_") {
		t.Fatalf("upload url = %q", target.UploadURL)
	}
	if !strings.HasSuffix(target.UploadURL, "kick-drum.wav") {
		t.Fatalf("filename not sanitized: %q", target.UploadURL)
	}
}

func TestIssueUniqueKeys(t *testing.T) {
	issuer := NewIssuer("https://bucket")

	a := issuer.Issue("loop.wav", "audio/wav")
	b := issuer.Issue("loop.wav", "audio/wav")
	if a.UploadURL == b.UploadURL {
		t.Fatal("equal filenames produced colliding keys")
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"simple.wav":        "simple.wav",
		"with space.wav":    "with-space.wav",
		"../../etc/passwd":  "..-..-etc-passwd",
		"Umlaut-äöü.mp3":    "Umlaut----.mp3",
		"under_score-ok.go": "under_score-ok.go",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

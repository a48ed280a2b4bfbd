package fileutil

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "vacation.jpg", want: "vacation.jpg"},
		{name: "keeps allowed punctuation", in: "IMG_2024-01.final.png", want: "IMG_2024-01.final.png"},
		{name: "strips traversal", in: "../../etc/passwd", want: "etcpasswd"},
		{name: "strips separators", in: "a/b\\c.png", want: "abc.png"},
		{name: "separator removal cannot leave dot pairs", in: "a./.b", want: "ab"},
		{name: "replaces spaces and symbols", in: "my photo (1).jpg", want: "my_photo__1_.jpg"},
		{name: "replaces unicode", in: "héllo.png", want: "h_llo.png"},
		{name: "reserved device name", in: "CON", want: "file_CON"},
		{name: "reserved lowercase with extension", in: "nul.jpg", want: "file_nul.jpg"},
		{name: "reserved com port", in: "com7.gif", want: "file_com7.gif"},
		{name: "reserved only as full base", in: "console.jpg", want: "console.jpg"},
		{name: "empty", in: "", want: "file"},
		{name: "whitespace only", in: "   ", want: "file"},
		{name: "dots only", in: "....", want: "file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"vacation.jpg",
		"../../etc/passwd",
		"a./.b",
		"my photo (1).jpg",
		"CON.txt",
		"héllo wörld.png",
		"....",
		strings.Repeat("x", 300) + ".jpeg",
		strings.Repeat("a.", 200) + "jpg",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Fatalf("Sanitize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestSanitizeCapsLengthKeepingExtension(t *testing.T) {
	in := strings.Repeat("x", 300) + ".jpeg"
	got := Sanitize(in)
	if len(got) != 255 {
		t.Fatalf("len = %d, want 255", len(got))
	}
	if !strings.HasSuffix(got, ".jpeg") {
		t.Fatalf("extension lost: %q", got[len(got)-10:])
	}
}

func TestStorageKey(t *testing.T) {
	key := StorageKey("123e4567-e89b-12d3-a456-426614174000", "Holiday.JPG")
	if key != "123e4567-e89b-12d3-a456-426614174000.jpg" {
		t.Fatalf("storage key = %q", key)
	}
	if got := StorageKey("id-1", "noextension"); got != "id-1" {
		t.Fatalf("extensionless key = %q", got)
	}
}

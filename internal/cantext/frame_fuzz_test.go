package cantext

import "testing"

// FuzzParseFrame ensures arbitrary text never panics and that every accepted
// valid frame survives a format/parse round trip.
func FuzzParseFrame(f *testing.F) {
	for _, s := range []string{"123#1234567812345678", "80001337#", "20001337#00", "7DF#R", "1337#11", "#", "1#"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		fr, err := ParseFrame(s)
		if err != nil || !fr.Valid() {
			return
		}
		again, err := ParseFrame(FormatFrame(fr, false))
		if err != nil {
			t.Fatalf("re-parse of %q failed: %v", s, err)
		}
		if again != fr {
			t.Fatalf("round trip of %q: %+v != %+v", s, again, fr)
		}
	})
}

// FuzzParseFilter ensures the filter parser doesn't panic.
func FuzzParseFilter(f *testing.F) {
	f.Add("123:7FF")
	f.Add("100-1FF")
	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseFilter(s)
	})
}

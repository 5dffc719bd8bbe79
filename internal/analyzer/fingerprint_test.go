package analyzer

import "testing"

func TestFingerprint(t *testing.T) {
	tests := map[string]string{
		"":  "1505",
		"a": "2b5c4",
	}
	for in, want := range tests {
		if got := Fingerprint(in); got != want {
			t.Errorf("Fingerprint(%q) = %s, want %s", in, got, want)
		}
	}

	url := "https://www.googletagmanager.com/gtm.js?id=GTM-1"
	if Fingerprint(url) != Fingerprint(url) {
		t.Fatal("fingerprint must be deterministic")
	}
	if Fingerprint(url) == Fingerprint(url+"2") {
		t.Fatal("expected different inputs to hash differently")
	}
}

func TestFingerprintUsesUTF16CodeUnits(t *testing.T) {
	// U+1F600 is a surrogate pair in UTF-16: D83D DE00.
	h := uint32(5381)
	h = (h * 33) ^ 0xD83D
	h = (h * 33) ^ 0xDE00
	got := Fingerprint("\U0001F600")
	if got != formatHex(h) {
		t.Fatalf("expected %s, got %s", formatHex(h), got)
	}
}

func formatHex(v uint32) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

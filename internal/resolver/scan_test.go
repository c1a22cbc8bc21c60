package resolver

import "testing"

func TestCleanCandidate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://a.example/x.m3u8", "https://a.example/x.m3u8"},
		{"https://a.example/x.m3u8-->", "https://a.example/x.m3u8"},
		{"https://a.example/x.m3u8;;", "https://a.example/x.m3u8"},
		{"https://a.example/x.m3u8))", "https://a.example/x.m3u8"},
		{`https://a.example/x.m3u8?a=1&b=2`, "https://a.example/x.m3u8?a=1&b=2"},
		{"https://a.example/x.m3u8?a=1&amp;b=2", "https://a.example/x.m3u8?a=1&b=2"},
		{"https://a.example/undefined/x.m3u8", ""},
		{"https://a.example/x.m3u8?id=UNDEFINED", ""},
	}
	for _, tt := range tests {
		if got := cleanCandidate(tt.in); got != tt.want {
			t.Errorf("cleanCandidate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindStreamURL(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"none", "<html></html>", ""},
		{"video only", `src="http://v.example/clip.mp4?t=1"`, "http://v.example/clip.mp4?t=1"},
		{"skips malformed", `"http://v.example/undefined.m3u8" "http://v.example/ok.m3u8"`, "http://v.example/ok.m3u8"},
		{"playlist after video", `"http://v.example/a.mp4" "http://v.example/b.m3u8"`, "http://v.example/b.m3u8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindStreamURL(tt.body); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor("  HTTP://Portal.Example.com/view?kind=V&cctvch=ch05&id=1047#frag ")
	if err != nil {
		t.Fatal(err)
	}
	if d.Normalized != "http://portal.example.com/view?kind=V&cctvch=ch05&id=1047" {
		t.Errorf("Normalized = %q", d.Normalized)
	}
	if d.Kind != "v" || d.Channel != "05" || d.ID != "1047" {
		t.Errorf("params = %q %q %q", d.Kind, d.Channel, d.ID)
	}
	if !IsPlaylistURL("https://x/LIVE.M3U8") || IsPlaylistURL("https://x/live.mp4") {
		t.Error("IsPlaylistURL mismatch")
	}
}

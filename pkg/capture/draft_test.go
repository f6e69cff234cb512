package capture

import "testing"

func TestDraftApply(t *testing.T) {
	cases := []struct {
		name  string
		steps [][2]string
		want  string
	}{
		{"interim only", [][2]string{{"", "I shipped"}}, "I shipped"},
		{"interim replaced", [][2]string{{"", "I"}, {"", "I shipped"}, {"", "I shipped a"}}, "I shipped a"},
		{"final then interim", [][2]string{{"I shipped a caching layer", ""}, {"", "for search"}}, "I shipped a caching layer for search"},
		{"cumulative finals", [][2]string{{"I shipped", ""}, {"I shipped a caching layer", ""}}, "I shipped a caching layer"},
		{"repeated final", [][2]string{{"yes okay", ""}, {"yes okay", ""}}, "yes okay"},
		{"case and punctuation", [][2]string{{"It was hard.", ""}, {"hard, but we", ""}}, "It was hard. but we"},
		{"interim repeats tail", [][2]string{{"we moved to Go", ""}, {"", "to Go and it"}}, "we moved to Go and it"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d Draft
			for _, s := range tc.steps {
				d = d.Apply(s[0], s[1])
			}
			if got := d.Merged(); got != tc.want {
				t.Fatalf("Merged() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDraftFinalClearsInterim(t *testing.T) {
	d := Draft{}.Apply("", "I shipped a")
	d = d.Apply("I shipped a caching layer", "")
	if d.Interim != "" {
		t.Fatalf("expected interim cleared, got %q", d.Interim)
	}
	if d.WordCount() != 5 {
		t.Fatalf("expected 5 words, got %d", d.WordCount())
	}
	if (Draft{}).WordCount() != 0 || !(Draft{Interim: "  "}).Empty() {
		t.Fatalf("expected empty draft")
	}
}

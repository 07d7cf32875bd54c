package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		original string
		modified string
	}{
		{"both empty", "", ""},
		{"insert into empty", "", "Yeni metin"},
		{"delete everything", "Eski metin", ""},
		{"word swap", "Robotlar üzerine araştırma yapacağız.", "Robotik sistemler üzerine kapsamlı bir araştırma yürütülecektir."},
		{"multiline", "Birinci satır\nİkinci satır\n", "Birinci satır\nDeğişen satır\nÜçüncü satır\n"},
		{"invalid utf8", "abc\xffdef", "abc\xfexyzdef"},
		{"unicode", "çğıöşü", "ÇĞİÖŞÜ çğıöşü"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			segments := Compute(tc.original, tc.modified)
			assert.Equal(t, tc.original, Original(segments))
			assert.Equal(t, tc.modified, Modified(segments))
			for _, s := range segments {
				assert.NotEmpty(t, s.Text)
			}
		})
	}
}

func TestComputeIdentity(t *testing.T) {
	segments := Compute("Aynı metin", "Aynı metin")
	require.Len(t, segments, 1)
	assert.Equal(t, Segment{Kind: Equal, Text: "Aynı metin"}, segments[0])

	assert.Empty(t, Compute("", ""))
}

func TestComputeSemanticCleanup(t *testing.T) {
	// Without cleanup the shared single letters would surface as tiny equal runs.
	segments := Compute("mouse", "sofas")

	changed := 0
	for _, s := range segments {
		if s.Kind != Equal {
			changed++
		}
	}
	assert.Equal(t, 2, changed)
	assert.Equal(t, "mouse", Original(segments))
	assert.Equal(t, "sofas", Modified(segments))
}

func TestRenderLinesSuppressesTrailingEmptyLine(t *testing.T) {
	lines := RenderLines([]Segment{
		{Kind: Equal, Text: "ortak\n"},
		{Kind: Deleted, Text: "silinen\n"},
		{Kind: Inserted, Text: "eklenen\nikinci\n"},
	})

	want := []Line{
		{Kind: Equal, Marker: " ", Text: "ortak"},
		{Kind: Deleted, Marker: "-", Text: "silinen"},
		{Kind: Inserted, Marker: "+", Text: "eklenen"},
		{Kind: Inserted, Marker: "+", Text: "ikinci"},
	}
	assert.Equal(t, want, lines)
}

func TestRenderLinesKeepsInnerBlankLines(t *testing.T) {
	lines := RenderLines([]Segment{{Kind: Equal, Text: "a\n\nb"}})

	require.Len(t, lines, 3)
	assert.Equal(t, "", lines[1].Text)
	assert.Equal(t, "b", lines[2].Text)
}

func TestSummarize(t *testing.T) {
	sum := Summarize([]Segment{
		{Kind: Equal, Text: "aynı "},
		{Kind: Deleted, Text: "eski"},
		{Kind: Inserted, Text: "yenilendi"},
	})
	assert.Equal(t, Summary{Inserted: 9, Deleted: 4}, sum)
}

func FuzzCompute(f *testing.F) {
	f.Add("", "")
	f.Add("Robotlar üzerine araştırma yapacağız.", "Robotik sistemler üzerine kapsamlı bir araştırma yürütülecektir.")
	f.Add("Birinci satır\nİkinci satır\n", "Birinci satır\nDeğişen satır\n")
	f.Add("abc\xffdef", "abc\xfexyzdef")

	f.Fuzz(func(t *testing.T, original, modified string) {
		segments := Compute(original, modified)
		if got := Original(segments); got != original {
			t.Fatalf("original round trip: got %q want %q", got, original)
		}
		if got := Modified(segments); got != modified {
			t.Fatalf("modified round trip: got %q want %q", got, modified)
		}
		for _, s := range segments {
			if s.Text == "" {
				t.Fatalf("empty %s segment", s.Kind)
			}
		}

		same := Compute(original, original)
		switch {
		case original == "" && len(same) != 0:
			t.Fatalf("identity of empty input: got %d segments", len(same))
		case original != "" && (len(same) != 1 || same[0] != (Segment{Kind: Equal, Text: original})):
			t.Fatalf("identity: got %+v", same)
		}
	})
}

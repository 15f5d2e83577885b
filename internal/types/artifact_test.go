package types

import (
	"testing"

	"github.com/google/uuid"
)

func TestHasEnrichableItems(t *testing.T) {
	cases := []struct {
		name string
		art  Artifact
		want bool
	}{
		{"story with chapters", &Story{Chapters: []*Chapter{{}}}, true},
		{"story without chapters", &Story{}, false},
		{"lecture", &Lecture{Sections: []*Section{{}}}, false},
		{"blocks with image", &BlockSequence{Blocks: []*Block{
			{Type: BlockTypeParagraph}, {Type: BlockTypeImage},
		}}, true},
		{"blocks without image", &BlockSequence{Blocks: []*Block{
			{Type: BlockTypeHeading}, {Type: BlockTypeParagraph},
		}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasEnrichableItems(tc.art); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestEnsureID(t *testing.T) {
	known := uuid.New()
	if got := EnsureID(known.String()); got != known {
		t.Fatalf("valid id must survive, got %s", got)
	}
	for _, bad := range []string{"", "not-a-uuid", uuid.Nil.String()} {
		if got := EnsureID(bad); got == uuid.Nil {
			t.Fatalf("%q: expected a synthesized id", bad)
		}
	}
}

package render

import (
	"strings"
	"testing"
)

func TestInlineSingleEnclosingEntity(t *testing.T) {
	t.Parallel()
	// "A<happcode>B" with one entity spanning the whole string.
	tmpl := "A" + Placeholder + "B"
	ents := []Entity{{Type: "pre", Offset: 0, Length: len(tmpl)}}
	content := "0123456789"

	out, got := Inline(tmpl, ents, content)
	if out != "A"+content+"B" {
		t.Fatalf("unexpected text: %q", out)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(got))
	}
	delta := len(content) - len(Placeholder)
	if got[0].Offset != 0 {
		t.Fatalf("enclosing entity offset changed: %d", got[0].Offset)
	}
	if got[0].Length != len(tmpl)+delta {
		t.Fatalf("enclosing entity length = %d, want %d", got[0].Length, len(tmpl)+delta)
	}
}

func TestInlineShiftsTrailingEntities(t *testing.T) {
	t.Parallel()
	tmpl := Placeholder + " tail"
	ents := []Entity{
		{Type: "pre", Offset: 0, Length: len(Placeholder)},
		{Type: "bold", Offset: len(Placeholder) + 1, Length: 4},
	}
	content := "xx"

	out, got := Inline(tmpl, ents, content)
	if out != "xx tail" {
		t.Fatalf("unexpected text: %q", out)
	}
	delta := len(content) - len(Placeholder)
	if got[0].Offset != 0 || got[0].Length != len(Placeholder)+delta {
		t.Fatalf("entity over placeholder not resized: %+v", got[0])
	}
	if got[1].Offset != len(Placeholder)+1+delta || got[1].Length != 4 {
		t.Fatalf("trailing entity not shifted: %+v", got[1])
	}
	if out[got[1].Offset:got[1].Offset+got[1].Length] != "tail" {
		t.Fatalf("trailing entity no longer covers its text: %+v", got[1])
	}
}

func TestInlineMultipleOccurrences(t *testing.T) {
	t.Parallel()
	tmpl := Placeholder + " and " + Placeholder
	content := "C"

	out, got := Inline(tmpl, nil, content)
	if out != "C and C" {
		t.Fatalf("unexpected text: %q", out)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entities, got %d", len(got))
	}
}

func TestInlineContentContainingPlaceholderNotRescanned(t *testing.T) {
	t.Parallel()
	// Substituted content must never be matched again.
	out, _ := Inline(Placeholder, nil, Placeholder+"!")
	if out != Placeholder+"!" {
		t.Fatalf("content was re-substituted: %q", out)
	}
}

func TestInlineNoPlaceholder(t *testing.T) {
	t.Parallel()
	ents := []Entity{{Type: "bold", Offset: 0, Length: 5}}
	out, got := Inline("plain text", ents, "zzz")
	if out != "plain text" {
		t.Fatalf("text changed without placeholder: %q", out)
	}
	if len(got) != 1 || got[0] != ents[0] {
		t.Fatalf("entities changed without placeholder: %+v", got)
	}
}

func TestCaptionDropsExactEntityAndShiftsRest(t *testing.T) {
	t.Parallel()
	// "<happcode> config" with an entity exactly matching the placeholder.
	tmpl := Placeholder + " config"
	ents := []Entity{
		{Type: "pre", Offset: 0, Length: len(Placeholder)},
		{Type: "bold", Offset: len(Placeholder) + 1, Length: 6},
	}

	out, got := Caption(tmpl, ents)
	if out != " config" {
		t.Fatalf("unexpected caption: %q", out)
	}
	if len(got) != 1 {
		t.Fatalf("expected exact-match entity dropped, got %+v", got)
	}
	if got[0].Type != "bold" || got[0].Offset != 1 || got[0].Length != 6 {
		t.Fatalf("trailing entity not shifted left by placeholder length: %+v", got[0])
	}
	if out[got[0].Offset:got[0].Offset+got[0].Length] != "config" {
		t.Fatalf("shifted entity no longer covers its text: %+v", got[0])
	}
}

func TestCaptionShrinksEnclosingEntity(t *testing.T) {
	t.Parallel()
	// An entity wider than the placeholder keeps styling the surrounding text.
	tmpl := "key: " + Placeholder + "!"
	ents := []Entity{{Type: "italic", Offset: 0, Length: len(tmpl)}}

	out, got := Caption(tmpl, ents)
	if out != "key: !" {
		t.Fatalf("unexpected caption: %q", out)
	}
	if len(got) != 1 {
		t.Fatalf("enclosing entity dropped: %+v", got)
	}
	if got[0].Offset != 0 || got[0].Length != len(out) {
		t.Fatalf("enclosing entity not shrunk to caption: %+v", got[0])
	}
}

func TestCaptionWithoutPlaceholderIsRawTemplate(t *testing.T) {
	t.Parallel()
	out, got := Caption("just a caption", []Entity{{Type: "bold", Offset: 0, Length: 4}})
	if out != "just a caption" {
		t.Fatalf("unexpected caption: %q", out)
	}
	if len(got) != 1 || got[0].Length != 4 {
		t.Fatalf("entities changed without placeholder: %+v", got)
	}
}

func TestShiftTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                   string
		ent                    Entity
		start, oldLen, newLen  int
		wantOffset, wantLength int
	}{
		{name: "after edit shifts", ent: Entity{Offset: 10, Length: 3}, start: 0, oldLen: 4, newLen: 10, wantOffset: 16, wantLength: 3},
		{name: "before edit untouched", ent: Entity{Offset: 0, Length: 3}, start: 5, oldLen: 4, newLen: 10, wantOffset: 0, wantLength: 3},
		{name: "enclosing grows", ent: Entity{Offset: 2, Length: 8}, start: 4, oldLen: 4, newLen: 6, wantOffset: 2, wantLength: 10},
		{name: "boundary at edit end shifts", ent: Entity{Offset: 8, Length: 2}, start: 4, oldLen: 4, newLen: 1, wantOffset: 5, wantLength: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ents := []Entity{tt.ent}
			shift(ents, tt.start, tt.oldLen, tt.newLen)
			if ents[0].Offset != tt.wantOffset || ents[0].Length != tt.wantLength {
				t.Fatalf("got (%d,%d), want (%d,%d)", ents[0].Offset, ents[0].Length, tt.wantOffset, tt.wantLength)
			}
		})
	}
}

func TestInlineLongContentRoundTrip(t *testing.T) {
	t.Parallel()
	// A realistic config body replacing the placeholder inside a pre block.
	body := strings.Repeat("remote 10.0.0.1 1194\n", 20)
	tmpl := "Your config:\n" + Placeholder + "\nEnjoy!"
	ents := []Entity{{Type: "pre", Offset: 13, Length: len(Placeholder)}}

	out, got := Inline(tmpl, ents, body)
	if !strings.Contains(out, body) {
		t.Fatal("content missing from output")
	}
	if got[0].Offset != 13 || got[0].Length != len(body) {
		t.Fatalf("pre entity does not cover the substituted body: %+v", got[0])
	}
}

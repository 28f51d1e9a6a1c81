// Package render substitutes the artifact placeholder inside a styled
// template while keeping Telegram entity offsets consistent.
package render

import "strings"

// Placeholder is the token channel templates use to mark where the artifact
// content goes (inline mode) or which gets stripped from the caption (file mode).
const Placeholder = "<happcode>"

// Entity is one style annotation over the template text: byte offset, byte
// length and the Telegram entity kind ("pre", "bold", ...).
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// shift adjusts entities for a single text edit replacing oldLen bytes at
// start with newLen bytes. The same rule serves both substitution and
// removal:
//   - entities at or after the edited region move by the length delta
//   - entities whose span crosses the edit start grow/shrink by the delta
//
// Entities are mutated in place.
func shift(ents []Entity, start, oldLen, newLen int) {
	delta := newLen - oldLen
	if delta == 0 {
		return
	}
	end := start + oldLen
	for i := range ents {
		switch {
		case ents[i].Offset >= end:
			ents[i].Offset += delta
		case ents[i].Offset+ents[i].Length > start:
			ents[i].Length += delta
		}
	}
}

// Inline substitutes every placeholder occurrence with content. Each scan
// resumes after the previous replacement, so placeholder-looking bytes inside
// content are never re-matched. A template without placeholders comes back
// unchanged.
func Inline(template string, ents []Entity, content string) (string, []Entity) {
	out := template
	res := cloneEntities(ents)
	from := 0
	for {
		pos := strings.Index(out[from:], Placeholder)
		if pos < 0 {
			break
		}
		pos += from
		out = out[:pos] + content + out[pos+len(Placeholder):]
		shift(res, pos, len(Placeholder), len(content))
		from = pos + len(content)
	}
	return out, res
}

// Caption strips every placeholder occurrence for attachment mode. Entity
// adjustment uses the same edit rule as Inline with a zero-length
// replacement; entities whose span collapses are dropped.
func Caption(template string, ents []Entity) (string, []Entity) {
	out := template
	res := cloneEntities(ents)
	for {
		pos := strings.Index(out, Placeholder)
		if pos < 0 {
			break
		}
		out = out[:pos] + out[pos+len(Placeholder):]
		shift(res, pos, len(Placeholder), 0)
	}

	kept := res[:0]
	for _, e := range res {
		if e.Length > 0 && e.Offset >= 0 {
			kept = append(kept, e)
		}
	}
	return out, kept
}

func cloneEntities(ents []Entity) []Entity {
	if len(ents) == 0 {
		return nil
	}
	cp := make([]Entity, len(ents))
	copy(cp, ents)
	return cp
}

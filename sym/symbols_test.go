package sym

import (
	"testing"
	"unicode/utf8"
)

func TestGlyphToCommandAndCommandToGlyphAreBidirectional(t *testing.T) {
	for glyph, cmd := range GlyphToCommand {
		got, ok := CommandToGlyph[cmd]
		if !ok {
			t.Errorf("GlyphToCommand has %q → %q, but CommandToGlyph has no entry for %q", glyph, cmd, cmd)
			continue
		}
		if got != glyph {
			t.Errorf("bidirectional mismatch: GlyphToCommand[%q] = %q, but CommandToGlyph[%q] = %q", glyph, cmd, cmd, got)
		}
	}

	for cmd, glyph := range CommandToGlyph {
		got, ok := GlyphToCommand[glyph]
		if !ok {
			t.Errorf("CommandToGlyph has %q → %q, but GlyphToCommand has no entry for %q", cmd, glyph, glyph)
			continue
		}
		if got != cmd {
			t.Errorf("bidirectional mismatch: CommandToGlyph[%q] = %q, but GlyphToCommand[%q] = %q", cmd, glyph, glyph, got)
		}
	}
}

func TestMapsHaveSameSize(t *testing.T) {
	if len(GlyphToCommand) != len(CommandToGlyph) {
		t.Errorf("map size mismatch: GlyphToCommand has %d entries, CommandToGlyph has %d",
			len(GlyphToCommand), len(CommandToGlyph))
	}
}

func TestCommandDescriptionsCoversAllCommands(t *testing.T) {
	for cmd := range CommandToGlyph {
		if _, ok := CommandDescriptions[cmd]; !ok {
			t.Errorf("CommandDescriptions missing entry for command %q", cmd)
		}
	}
}

func TestCommandDescriptionsHasNoExtraEntries(t *testing.T) {
	for cmd := range CommandDescriptions {
		if _, ok := CommandToGlyph[cmd]; !ok {
			t.Errorf("CommandDescriptions has entry for %q which is not in CommandToGlyph", cmd)
		}
	}
}

func TestMarkerOrderContainsValidMarkers(t *testing.T) {
	for i, glyph := range MarkerOrder {
		if _, ok := Labels[glyph]; !ok {
			t.Errorf("MarkerOrder[%d] = %q is not in Labels", i, glyph)
		}
	}
}

func TestMarkerOrderHasNoDuplicates(t *testing.T) {
	seen := make(map[string]int, len(MarkerOrder))
	for i, glyph := range MarkerOrder {
		if prev, ok := seen[glyph]; ok {
			t.Errorf("MarkerOrder has duplicate %q at indices %d and %d", glyph, prev, i)
		}
		seen[glyph] = i
	}
}

func TestLabelsCoverEveryMarker(t *testing.T) {
	if len(Labels) != len(MarkerOrder) {
		t.Errorf("Labels has %d entries, MarkerOrder has %d", len(Labels), len(MarkerOrder))
	}
}

func TestMarkersAreValidUnicode(t *testing.T) {
	for _, glyph := range MarkerOrder {
		if !utf8.ValidString(glyph) {
			t.Errorf("marker %q is not valid UTF-8", glyph)
		}
		if utf8.RuneCountInString(glyph) == 0 {
			t.Errorf("marker labeled %q is empty", Labels[glyph])
		}
	}
}

func TestNoDuplicateMarkerValues(t *testing.T) {
	seen := make(map[string]string, len(Labels))
	for glyph, label := range Labels {
		if prevLabel, ok := seen[glyph]; ok {
			t.Errorf("duplicate marker %q: used by both %q and %q", glyph, prevLabel, label)
		}
		seen[glyph] = label
	}
}

func TestCommandsAreInCommandToGlyph(t *testing.T) {
	for _, cmd := range Commands {
		if _, ok := CommandToGlyph[cmd]; !ok {
			t.Errorf("Commands contains %q which is not in CommandToGlyph", cmd)
		}
	}
}

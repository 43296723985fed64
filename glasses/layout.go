package glasses

import "strings"

// spaceSearchWindow bounds how far back from a computed cut point the
// wrapper looks for a space before giving up and hard-breaking mid-word.
const spaceSearchWindow = 10

// MeasureWidth returns the rendered pixel width of s in the device font.
func MeasureWidth(s string) int {
	width := 0
	for _, r := range s {
		width += glyphWidth(r)
	}
	return width
}

// isRTL reports whether r belongs to a right-to-left script block.
func isRTL(r rune) bool {
	switch {
	case r >= 0x0590 && r <= 0x05FF: // Hebrew
		return true
	case r >= 0x0600 && r <= 0x06FF: // Arabic
		return true
	case r >= 0x0750 && r <= 0x077F: // Arabic Supplement
		return true
	case r >= 0xFB1D && r <= 0xFB4F: // Hebrew presentation forms
		return true
	case r >= 0xFB50 && r <= 0xFDFF: // Arabic presentation forms A
		return true
	case r >= 0xFE70 && r <= 0xFEFF: // Arabic presentation forms B
		return true
	}
	return false
}

// ReorderRTL reverses each contiguous run of right-to-left characters while
// leaving other runs in original order. The firmware renders glyphs strictly
// left to right, so the reorder has to happen host-side before measurement.
func ReorderRTL(text string) string {
	runes := []rune(text)
	var out []rune
	i := 0
	for i < len(runes) {
		if !isRTL(runes[i]) {
			out = append(out, runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isRTL(runes[j]) {
			j++
		}
		for k := j - 1; k >= i; k-- {
			out = append(out, runes[k])
		}
		i = j
	}
	return string(out)
}

// WrapLines breaks text into lines whose rendered width does not exceed
// maxWidthPx. Paragraphs (split on '\n') wrap independently. The cut point
// is found by binary search on the rendered width, then moved back to the
// nearest space within a short window to avoid mid-word breaks; when no
// space is close enough the line is hard-broken at the computed index.
func WrapLines(text string, maxWidthPx int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		lines = append(lines, wrapParagraph(ReorderRTL(para), maxWidthPx)...)
	}
	return lines
}

func wrapParagraph(para string, maxWidthPx int) []string {
	runes := []rune(para)
	if len(runes) == 0 {
		return []string{""}
	}

	var lines []string
	for len(runes) > 0 {
		cut := maxFit(runes, maxWidthPx)
		if cut >= len(runes) {
			lines = append(lines, string(runes))
			break
		}
		if cut == 0 {
			// Single glyph wider than the budget; forced progress.
			cut = 1
		}

		brk := cut
		skip := 0
		for back := 0; back < spaceSearchWindow && cut-back > 0; back++ {
			if runes[cut-back-1] == ' ' {
				brk = cut - back - 1
				skip = 1
				break
			}
		}
		if brk == 0 {
			brk = cut
			skip = 0
		}

		lines = append(lines, string(runes[:brk]))
		runes = runes[brk+skip:]
	}
	return lines
}

// maxFit binary-searches the largest prefix length whose rendered width is
// within maxWidthPx.
func maxFit(runes []rune, maxWidthPx int) int {
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if MeasureWidth(string(runes[:mid])) <= maxWidthPx {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// AlignDualColumn lays out two columns on one screen. It always produces
// exactly LinesPerScreen rows, padding the shorter column with empty
// strings. The right column starts at columnBoundaryPx: the gap is filled
// with however many space characters are needed to cross the boundary,
// never fewer than one.
func AlignDualColumn(leftLines, rightLines []string, columnBoundaryPx int) []string {
	rows := make([]string, LinesPerScreen)
	spaceW := glyphWidth(' ')
	for i := 0; i < LinesPerScreen; i++ {
		var left, right string
		if i < len(leftLines) {
			left = leftLines[i]
		}
		if i < len(rightLines) {
			right = rightLines[i]
		}
		if right == "" {
			rows[i] = left
			continue
		}
		needed := columnBoundaryPx - MeasureWidth(left)
		spaces := 1
		if needed > 0 {
			spaces = (needed + spaceW - 1) / spaceW
			if spaces < 1 {
				spaces = 1
			}
		}
		rows[i] = left + strings.Repeat(" ", spaces) + right
	}
	return rows
}

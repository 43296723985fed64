package glasses

// glyphWidths maps a character to its rendered width in pixels for the
// firmware's built-in font. Characters not present here render at
// DefaultGlyphWidth. The table mirrors the font shipped on the device; it
// must not be "corrected" without re-measuring on hardware.
var glyphWidths = map[rune]int{
	' ':  4,
	'!':  3,
	'"':  5,
	'#':  8,
	'$':  7,
	'%':  10,
	'&':  8,
	'\'': 3,
	'(':  4,
	')':  4,
	'*':  6,
	'+':  7,
	',':  3,
	'-':  5,
	'.':  3,
	'/':  5,
	'0':  7,
	'1':  5,
	'2':  7,
	'3':  7,
	'4':  7,
	'5':  7,
	'6':  7,
	'7':  7,
	'8':  7,
	'9':  7,
	':':  3,
	';':  3,
	'<':  7,
	'=':  7,
	'>':  7,
	'?':  6,
	'@':  11,
	'A':  8,
	'B':  8,
	'C':  8,
	'D':  8,
	'E':  7,
	'F':  7,
	'G':  9,
	'H':  8,
	'I':  3,
	'J':  5,
	'K':  8,
	'L':  6,
	'M':  10,
	'N':  8,
	'O':  9,
	'P':  7,
	'Q':  9,
	'R':  8,
	'S':  7,
	'T':  7,
	'U':  8,
	'V':  8,
	'W':  11,
	'X':  8,
	'Y':  7,
	'Z':  7,
	'[':  4,
	'\\': 5,
	']':  4,
	'^':  7,
	'_':  6,
	'`':  4,
	'a':  7,
	'b':  7,
	'c':  6,
	'd':  7,
	'e':  7,
	'f':  4,
	'g':  7,
	'h':  7,
	'i':  3,
	'j':  3,
	'k':  6,
	'l':  3,
	'm':  11,
	'n':  7,
	'o':  7,
	'p':  7,
	'q':  7,
	'r':  4,
	's':  6,
	't':  4,
	'u':  7,
	'v':  6,
	'w':  9,
	'x':  6,
	'y':  6,
	'z':  6,
	'{':  4,
	'|':  3,
	'}':  4,
	'~':  7,
}

// glyphWidth returns the pixel width of a single character.
func glyphWidth(r rune) int {
	if w, ok := glyphWidths[r]; ok {
		return w
	}
	return DefaultGlyphWidth
}

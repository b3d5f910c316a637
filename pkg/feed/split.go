package feed

import "strings"

// SplitText breaks text into parts of at most max runes, preferring
// paragraph and word boundaries. Words longer than max are cut.
func SplitText(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || len([]rune(text)) <= max {
		return []string{text}
	}

	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			parts = append(parts, s)
		}
		cur = cur[:0]
	}

	for pi, para := range strings.Split(text, "\n\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if pi > 0 && len(cur) > 0 {
			if len(cur)+2+len([]rune(words[0])) <= max {
				cur = append(cur, '\n', '\n')
			} else {
				flush()
			}
		}
		for _, w := range words {
			wr := []rune(w)
			for len(wr) > max {
				flush()
				parts = append(parts, string(wr[:max]))
				wr = wr[max:]
			}
			sep := 0
			if len(cur) > 0 && cur[len(cur)-1] != '\n' {
				sep = 1
			}
			if len(cur)+sep+len(wr) > max {
				flush()
				sep = 0
			}
			if sep == 1 {
				cur = append(cur, ' ')
			}
			cur = append(cur, wr...)
		}
	}
	flush()
	return parts
}

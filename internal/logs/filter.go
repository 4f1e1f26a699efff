package logs

import (
	"strconv"
	"strings"
)

// FieldMatcher returns a line filter requiring every non-empty field to be
// present with the given value. It understands both console (key=value) and
// JSON ("key":"value") log lines. It returns nil when there is nothing to
// filter on.
func FieldMatcher(fields map[string]string) func(string) bool {
	var needles [][]string
	for key, value := range fields {
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		needles = append(needles, []string{
			key + "=" + value,
			key + "=" + strconv.Quote(value),
			strconv.Quote(key) + ":" + strconv.Quote(value),
		})
	}
	if len(needles) == 0 {
		return nil
	}
	return func(line string) bool {
		for _, forms := range needles {
			if !containsField(line, forms) {
				return false
			}
		}
		return true
	}
}

func containsField(line string, forms []string) bool {
	for _, form := range forms {
		idx := strings.Index(line, form)
		for idx >= 0 {
			end := idx + len(form)
			// key=value must not match a longer value such as key=value2.
			if end == len(line) || !isValueByte(line[end]) || strings.HasSuffix(form, `"`) {
				return true
			}
			next := strings.Index(line[end:], form)
			if next < 0 {
				break
			}
			idx = end + next
		}
	}
	return false
}

func isValueByte(b byte) bool {
	return b != ' ' && b != '\t' && b != ',' && b != '}'
}

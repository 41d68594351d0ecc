package telegram

import "strings"

// MessageLimit — максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage режет текст на части не длиннее limit символов.
// Разрез делается по пустой строке, затем по переводу строки, затем по пробелу,
// чтобы HTML-блоки новостей не разрывались посередине.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	rest := []rune(strings.TrimSpace(text))
	var parts []string
	for len(rest) > 0 {
		if len(rest) <= limit {
			parts = append(parts, string(rest))
			break
		}
		cut := cutPoint(rest[:limit])
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			parts = append(parts, chunk)
		}
		rest = []rune(strings.TrimLeft(string(rest[cut:]), " \n"))
	}
	return parts
}

func cutPoint(window []rune) int {
	s := string(window)
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(s, sep); idx > 0 {
			return len([]rune(s[:idx]))
		}
	}
	return len(window)
}

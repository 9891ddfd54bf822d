package router

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"castbot/internal/storage"
	"castbot/internal/transport"
)

const previewRunes = 40

func formatPending(rows []storage.Broadcast, loc *time.Location) string {
	if len(rows) == 0 {
		return "Запланированных рассылок нет."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Запланировано: %d\n", len(rows))
	for _, row := range rows {
		fmt.Fprintf(&b, "#%d — %s%s %s\n",
			row.ID,
			row.SendAt.In(loc).Format(TimeLayout),
			mediaTag(row.Content.MediaKind),
			preview(row.Content.Text),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func mediaTag(kind transport.MediaKind) string {
	if kind == transport.MediaNone {
		return ""
	}
	return " [" + string(kind) + "]"
}

// preview truncates to a fixed rune count; raw newlines collapse so one row
// in the listing stays one line.
func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "…"
}

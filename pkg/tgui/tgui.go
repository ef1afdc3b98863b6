// Package tgui holds small helpers for building chat UI payloads.
package tgui

import (
	"strings"

	kit "relaybot/internal/transport"
)

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows [][]kit.Button
}

func NewInline() *Inline {
	return &Inline{}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	i.rows = append(i.rows, btn)
	return i
}

// Markup returns the accumulated reply markup.
func (i *Inline) Markup() *kit.Markup {
	return &kit.Markup{Inline: i.rows}
}

// Btn creates a callback button with raw callback_data (we do NOT encode it).
func Btn(text, data string) kit.Button {
	return kit.Button{Text: text, Data: data}
}

// ReplyMenu builds a persistent reply keyboard from rows of plain labels.
func ReplyMenu(rows ...[]string) *kit.Markup {
	return &kit.Markup{Keyboard: rows, Resize: true}
}

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

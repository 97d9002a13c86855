package transport

import (
	"fmt"
	"strings"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

// maxBodyRunes is the provider's limit for one WhatsApp message body
const maxBodyRunes = 1600

const choicePrompt = "Reply with the number of your choice."

// Render flattens a reply into the plain text body the provider accepts.
// Options are numbered from 1 in the order of ResponseDescriptor.OptionIDs,
// so a typed number maps back onto the session's menu.
func Render(resp models.ResponseDescriptor) (body string, mediaURL string) {
	var b strings.Builder
	b.WriteString(resp.Body)

	n := 0
	switch resp.Kind {
	case models.ResponseButtons, models.ResponseMediaText:
		if len(resp.Buttons) > 0 {
			b.WriteString("\n")
			for _, btn := range resp.Buttons {
				n++
				fmt.Fprintf(&b, "\n%d. %s", n, btn.Label)
			}
		}
	case models.ResponseList:
		for _, section := range resp.Sections {
			if len(section.Rows) == 0 {
				continue
			}
			b.WriteString("\n")
			if section.Title != "" {
				fmt.Fprintf(&b, "\n*%s*", section.Title)
			}
			for _, row := range section.Rows {
				n++
				fmt.Fprintf(&b, "\n%d. %s", n, row.Title)
				if row.Description != "" {
					fmt.Fprintf(&b, " - %s", row.Description)
				}
			}
		}
	}
	if n > 0 {
		b.WriteString("\n\n" + choicePrompt)
	}

	if resp.Kind == models.ResponseMediaText {
		mediaURL = resp.MediaURL
	}
	return truncate(b.String(), maxBodyRunes), mediaURL
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

package core

import (
	"fmt"
	"strings"
)

// Outcome is the result of recording one batch.
type Outcome struct {
	Recorded []RecordedEntry  `json:"recorded"`
	Errors   []RecordingError `json:"errors"`
}

// Reply builds the confirmation text shown to the user.
func (o Outcome) Reply() string {
	var b strings.Builder
	if len(o.Recorded) > 0 {
		b.WriteString("Đã ghi:")
		for _, e := range o.Recorded {
			fmt.Fprintf(&b, "\n• %s - %s | %s", e.Description, FormatAmount(e.Amount), e.Category)
		}
	}
	if len(o.Errors) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Lỗi:")
		for _, e := range o.Errors {
			b.WriteString("\n")
			b.WriteString(e.Message)
		}
	}
	return b.String()
}

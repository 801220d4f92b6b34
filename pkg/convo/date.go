package convo

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "02/01/2006"

var timeNow = time.Now

// parseDate reads a day-first date and normalizes it to DD/MM/YYYY.
func parseDate(text string) (string, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "today" {
		return today(), nil
	}

	for _, layout := range []string{dateLayout, "02/01/06", "2/1/2006", "2/1/06"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(dateLayout), nil
		}
	}

	// day and month only, current year
	for _, layout := range []string{"02/01", "2/1"} {
		if t, err := time.Parse(layout, text); err == nil {
			return time.Date(timeNow().Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(dateLayout), nil
		}
	}

	return "", fmt.Errorf("unrecognized date %q", text)
}

func today() string {
	return timeNow().Format(dateLayout)
}

// dayPickerActions offers the last few days as buttons, newest first.
func dayPickerActions() [][]Action {
	now := timeNow()
	labels := []string{"Today", "Yesterday"}

	var row []Action
	for i := 0; i < 4; i++ {
		date := now.AddDate(0, 0, -i).Format(dateLayout)
		label := date[:5]
		if i < len(labels) {
			label = labels[i]
		}
		row = append(row, Action{Label: label, Token: "day:" + date})
	}

	return [][]Action{row}
}

// internal/transport/format.go
package transport

import (
	"fmt"
	"strconv"
	"strings"

	"broadcast-dispatch/internal/queue"
)

// FormatText flattens a message of any kind into plain text for SMS.
func FormatText(body string, meta *queue.Metadata) string {
	if meta == nil || meta.Message == nil {
		return body
	}

	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	switch m := meta.Message.(type) {
	case queue.ImageMessage:
		add(body)
		add(m.URL)
	case queue.VideoMessage:
		add(body)
		add(m.URL)
	case queue.AudioMessage:
		add(body)
		add(m.URL)
	case queue.DocumentMessage:
		add(body)
		if m.Filename != "" {
			add(m.Filename + ": " + m.URL)
		} else {
			add(m.URL)
		}
	case queue.LocationMessage:
		add(body)
		add(strings.Join(nonEmpty(m.Name, m.Address), ", "))
		add(mapsLink(m.Latitude, m.Longitude))
	case queue.InteractiveMessage:
		add(headerText(m.Header))
		add(body)
		for i, b := range m.Buttons {
			add(fmt.Sprintf("%d. %s", i+1, b.Title))
		}
		if len(m.ListItems) > 0 {
			add(m.ListTitle)
			for i, item := range m.ListItems {
				line := fmt.Sprintf("%d. %s", i+1, item.Title)
				if item.Description != "" {
					line += " - " + item.Description
				}
				add(line)
			}
		}
		add(m.Footer)
	default:
		add(body)
	}
	return strings.Join(parts, "\n")
}

func mapsLink(lat, lng float64) string {
	return "https://maps.google.com/?q=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
}

// headerText accepts the plain string header or the {type, text} object form.
func headerText(h interface{}) string {
	switch v := h.(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["text"].(string); ok {
			return s
		}
	}
	return ""
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

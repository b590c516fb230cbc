// internal/queue/metadata.go
package queue

import (
	"encoding/json"
	"path"
	"strings"
)

// MessageKind selects how a message is rendered by the transport.
type MessageKind string

const (
	KindTemplate    MessageKind = "template"
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindDocument    MessageKind = "document"
	KindVideo       MessageKind = "video"
	KindAudio       MessageKind = "audio"
	KindLocation    MessageKind = "location"
	KindInteractive MessageKind = "interactive"
)

// Message is one case of the metadata variant.
type Message interface {
	Kind() MessageKind
}

type TemplateMessage struct {
	Name         string
	LanguageCode string
	Parameters   map[string]interface{}
}

type TextMessage struct{}

type ImageMessage struct{ URL string }

type DocumentMessage struct {
	URL      string
	Filename string
}

type VideoMessage struct{ URL string }

type AudioMessage struct{ URL string }

type LocationMessage struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type InteractiveMessage struct {
	Type       string
	Header     interface{}
	Footer     string
	Buttons    []Button
	ListTitle  string
	ListButton string
	ListItems  []ListItem
}

type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (TemplateMessage) Kind() MessageKind    { return KindTemplate }
func (TextMessage) Kind() MessageKind        { return KindText }
func (ImageMessage) Kind() MessageKind       { return KindImage }
func (DocumentMessage) Kind() MessageKind    { return KindDocument }
func (VideoMessage) Kind() MessageKind       { return KindVideo }
func (AudioMessage) Kind() MessageKind       { return KindAudio }
func (LocationMessage) Kind() MessageKind    { return KindLocation }
func (InteractiveMessage) Kind() MessageKind { return KindInteractive }

// Metadata wraps a Message and keeps the flat wire shape on the queue.
type Metadata struct {
	Message Message
}

func NewMetadata(m Message) *Metadata {
	return &Metadata{Message: m}
}

// Kind is the message kind, text when no message is set.
func (m *Metadata) Kind() MessageKind {
	if m == nil || m.Message == nil {
		return KindText
	}
	return m.Message.Kind()
}

type wireLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type wireInteractive struct {
	InteractiveType string      `json:"interactiveType"`
	Header          interface{} `json:"header,omitempty"`
	Footer          string      `json:"footer,omitempty"`
	Buttons         []Button    `json:"buttons,omitempty"`
	ListTitle       string      `json:"listTitle,omitempty"`
	ListButton      string      `json:"listButton,omitempty"`
	ListItems       []ListItem  `json:"listItems,omitempty"`
}

type wireMetadata struct {
	MessageType  MessageKind            `json:"messageType,omitempty"`
	TemplateName string                 `json:"templateName,omitempty"`
	LanguageCode string                 `json:"languageCode,omitempty"`
	MediaURL     string                 `json:"mediaUrl,omitempty"`
	Filename     string                 `json:"filename,omitempty"`
	Location     *wireLocation          `json:"location,omitempty"`
	Interactive  *wireInteractive       `json:"interactive,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	w := wireMetadata{MessageType: m.Kind()}
	switch msg := m.Message.(type) {
	case TemplateMessage:
		w.TemplateName = msg.Name
		w.LanguageCode = msg.LanguageCode
		w.Parameters = msg.Parameters
	case ImageMessage:
		w.MediaURL = msg.URL
	case DocumentMessage:
		w.MediaURL = msg.URL
		w.Filename = msg.Filename
	case VideoMessage:
		w.MediaURL = msg.URL
	case AudioMessage:
		w.MediaURL = msg.URL
	case LocationMessage:
		w.Location = &wireLocation{Latitude: msg.Latitude, Longitude: msg.Longitude, Name: msg.Name, Address: msg.Address}
	case InteractiveMessage:
		w.Interactive = &wireInteractive{
			InteractiveType: msg.Type,
			Header:          msg.Header,
			Footer:          msg.Footer,
			Buttons:         msg.Buttons,
			ListTitle:       msg.ListTitle,
			ListButton:      msg.ListButton,
			ListItems:       msg.ListItems,
		}
	}
	return json.Marshal(w)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var w wireMetadata
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Message = w.message()
	return nil
}

// message resolves the wire bag to exactly one case. A kind missing its
// required fields degrades to text.
func (w wireMetadata) message() Message {
	kind := w.MessageType
	if kind == "" {
		if w.MediaURL == "" {
			kind = KindTemplate
		} else {
			kind = DetectMediaKind(w.MediaURL)
		}
	}
	if kind == "file" {
		kind = KindDocument
	}

	switch kind {
	case KindTemplate:
		return TemplateMessage{Name: w.TemplateName, LanguageCode: w.LanguageCode, Parameters: w.Parameters}
	case KindImage, KindDocument, KindVideo, KindAudio:
		if w.MediaURL == "" {
			return TextMessage{}
		}
		switch kind {
		case KindImage:
			return ImageMessage{URL: w.MediaURL}
		case KindVideo:
			return VideoMessage{URL: w.MediaURL}
		case KindAudio:
			return AudioMessage{URL: w.MediaURL}
		default:
			return DocumentMessage{URL: w.MediaURL, Filename: w.Filename}
		}
	case KindLocation:
		if w.Location == nil || w.Location.Latitude == 0 || w.Location.Longitude == 0 {
			return TextMessage{}
		}
		return LocationMessage{
			Latitude:  w.Location.Latitude,
			Longitude: w.Location.Longitude,
			Name:      w.Location.Name,
			Address:   w.Location.Address,
		}
	case KindInteractive:
		if w.Interactive == nil || w.Interactive.InteractiveType == "" {
			return TextMessage{}
		}
		return InteractiveMessage{
			Type:       w.Interactive.InteractiveType,
			Header:     w.Interactive.Header,
			Footer:     w.Interactive.Footer,
			Buttons:    w.Interactive.Buttons,
			ListTitle:  w.Interactive.ListTitle,
			ListButton: w.Interactive.ListButton,
			ListItems:  w.Interactive.ListItems,
		}
	default:
		return TextMessage{}
	}
}

// DetectMediaKind guesses the media kind from a URL's file extension.
func DetectMediaKind(url string) MessageKind {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	switch strings.ToLower(strings.TrimPrefix(path.Ext(url), ".")) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return KindImage
	case "mp4", "mov", "avi", "webm":
		return KindVideo
	case "mp3", "wav", "ogg":
		return KindAudio
	default:
		return KindDocument
	}
}

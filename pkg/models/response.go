package models

// ResponseKind is the channel-agnostic shape of a reply
type ResponseKind string

const (
	ResponseText      ResponseKind = "text"
	ResponseButtons   ResponseKind = "buttons"
	ResponseList      ResponseKind = "list"
	ResponseMediaText ResponseKind = "media_text"
)

// Button is one option of a buttons reply. Users may tap it or type its number.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ListRow is one selectable row of a list reply
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups list rows under a title
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ResponseDescriptor is the state machine's output for one inbound message
type ResponseDescriptor struct {
	Kind      ResponseKind  `json:"kind"`
	Flow      Flow          `json:"flow"`
	Body      string        `json:"body"`
	Buttons   []Button      `json:"buttons,omitempty"`
	ListTitle string        `json:"list_title,omitempty"`
	Sections  []ListSection `json:"sections,omitempty"`
	MediaURL  string        `json:"media_url,omitempty"`
	Patch     ContextPatch  `json:"context_patch"`
}

// OptionIDs returns the selectable ids in display order, numbered from 1.
// A media_text reply may carry buttons under its caption.
func (r ResponseDescriptor) OptionIDs() []string {
	var ids []string
	switch r.Kind {
	case ResponseButtons, ResponseMediaText:
		for _, b := range r.Buttons {
			ids = append(ids, b.ID)
		}
	case ResponseList:
		for _, s := range r.Sections {
			for _, row := range s.Rows {
				ids = append(ids, row.ID)
			}
		}
	}
	return ids
}

// MessageType maps the response kind onto the message log type
func (r ResponseDescriptor) MessageType() MessageType {
	switch r.Kind {
	case ResponseButtons:
		return MessageTypeButtons
	case ResponseList:
		return MessageTypeList
	case ResponseMediaText:
		return MessageTypeMediaText
	default:
		return MessageTypeText
	}
}

package types

type CommandRes struct {
	Command  string       `json:"command" example:"disable"`
	OK       bool         `json:"ok" example:"true"`
	Sections []SectionRes `json:"sections"`
	Error    string       `json:"error,omitempty"`
	Text     string       `json:"text"`
}

type SectionRes struct {
	Title string `json:"title" example:"steps"`
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

package models

// Format is a download format accepted by GET /download/{job_id}.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatMarkdown, FormatHTML, FormatJSON:
		return Format(s), true
	}
	return "", false
}

// Ext returns the file extension for downloads in this format.
func (f Format) Ext() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatHTML:
		return ".html"
	case FormatJSON:
		return ".json"
	}
	return ""
}

// MediaType returns the Content-Type served for this format.
func (f Format) MediaType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown"
	case FormatHTML:
		return "text/html"
	case FormatJSON:
		return "application/json"
	}
	return "application/octet-stream"
}

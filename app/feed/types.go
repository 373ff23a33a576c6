package feed

// Channel describes the RSS channel wrapping exported announcements.
type Channel struct {
	Title       string
	Link        string
	Description string
	Language    string
	// Path is appended to the public base URL for the atom self link.
	Path string
}

const (
	DefaultPath     = "/feeds/announcements"
	DocumentType    = "application/pdf"
	DefaultLanguage = "zh-cn"
)

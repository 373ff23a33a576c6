package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/cfg"
	"github.com/lysyi3m/disclosure-comb/app/database"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Run renders announcements as an RSS 2.0 document. Announcements are written
// in the order given.
func (g *Generator) Run(channel Channel, announcements []database.Announcement) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", cmp.Or(channel.Title, "Announcements"), 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, "Announcements of watched stocks"), 4)

	path := cmp.Or(channel.Path, DefaultPath)
	var selfLink string
	if cfg.Get().BaseUrl != "" {
		selfLink = cfg.Get().BaseUrl + path
	} else {
		selfLink = fmt.Sprintf("http://localhost:%s%s", cfg.Get().Port, path)
	}
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(selfLink)))

	lastBuildDate := time.Now().In(cfg.Get().Location)
	if len(announcements) > 0 {
		lastBuildDate = latestDate(announcements)
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Disclosure-Comb/%s", cfg.Get().Version), 4)
	g.writeElement(&buf, "language", cmp.Or(channel.Language, DefaultLanguage), 4)

	for _, ann := range announcements {
		g.writeItem(&buf, ann)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, ann database.Announcement) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	buf.WriteString(strconv.FormatInt(ann.ID, 10))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", itemTitle(ann), 6)
	g.writeElement(buf, "link", ann.URL, 6)
	g.writeElement(buf, "description", ann.Title, 6)

	if !ann.Date.IsZero() {
		g.writeElement(buf, "pubDate", ann.Date.Format(time.RFC1123Z), 6)
	}

	g.writeElement(buf, "category", ann.StockCode, 6)

	// Document size is unknown until downloaded.
	if ann.URL != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"0\" type=\"%s\" />\n",
			html.EscapeString(ann.URL), DocumentType))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func itemTitle(ann database.Announcement) string {
	if ann.StockName == "" {
		return ann.Title
	}
	return ann.StockName + ": " + ann.Title
}

func latestDate(announcements []database.Announcement) time.Time {
	latest := announcements[0].Date
	for _, ann := range announcements[1:] {
		if ann.Date.After(latest) {
			latest = ann.Date
		}
	}
	return latest
}

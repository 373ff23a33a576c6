package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/disclosure-comb/app/cfg"
	"github.com/lysyi3m/disclosure-comb/app/database"
	"github.com/mmcdole/gofeed"
)

func setupTestConfig(t *testing.T, args ...string) {
	t.Helper()
	if _, err := cfg.LoadArgs(append([]string{"--port", "8080"}, args...)); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
}

func sampleAnnouncements() []database.Announcement {
	return []database.Announcement{
		{
			ID:        1217358942,
			StockCode: "601166",
			StockName: "兴业银行",
			Title:     "2023年半年度报告",
			Date:      time.Date(2023, 7, 3, 0, 0, 0, 0, time.UTC),
			URL:       "http://static.cninfo.com.cn/finalpage/2023-07-03/1217358942.PDF",
			State:     database.StateUnread,
		},
		{
			ID:        1217300001,
			StockCode: "000001",
			StockName: "平安银行",
			Title:     "关于召开股东大会的通知",
			Date:      time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			URL:       "http://static.cninfo.com.cn/finalpage/2023-06-30/1217300001.PDF",
			State:     database.StateRead,
		},
	}
}

func TestGenerateRSS(t *testing.T) {
	setupTestConfig(t)
	generator := NewGenerator()

	rss, err := generator.Run(Channel{Title: "Watched announcements", Link: "http://localhost:8080"}, sampleAnnouncements())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Error("RSS should contain XML declaration")
	}
	if !strings.Contains(rss, `<atom:link href="http://localhost:8080/feeds/announcements" rel="self" type="application/rss+xml" />`) {
		t.Error("RSS should contain atom:link self reference")
	}
	if !strings.Contains(rss, `<guid isPermaLink="false">1217358942</guid>`) {
		t.Error("RSS should contain announcement id as GUID")
	}
	if !strings.Contains(rss, `<lastBuildDate>Mon, 03 Jul 2023 00:00:00 +0000</lastBuildDate>`) {
		t.Error("lastBuildDate should be the newest announcement date")
	}

	parsed, err := gofeed.NewParser().ParseString(rss)
	if err != nil {
		t.Fatalf("Generated RSS should parse, got: %v", err)
	}

	if parsed.Title != "Watched announcements" {
		t.Errorf("Expected channel title, got '%s'", parsed.Title)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(parsed.Items))
	}

	item := parsed.Items[0]
	if item.GUID != "1217358942" {
		t.Errorf("Expected GUID '1217358942', got '%s'", item.GUID)
	}
	if item.Title != "兴业银行: 2023年半年度报告" {
		t.Errorf("Unexpected item title '%s'", item.Title)
	}
	if item.Link != "http://static.cninfo.com.cn/finalpage/2023-07-03/1217358942.PDF" {
		t.Errorf("Unexpected item link '%s'", item.Link)
	}
	if len(item.Categories) != 1 || item.Categories[0] != "601166" {
		t.Errorf("Expected stock code category, got %v", item.Categories)
	}
	if item.PublishedParsed == nil || !item.PublishedParsed.Equal(time.Date(2023, 7, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected pubDate %v", item.PublishedParsed)
	}
	if len(item.Enclosures) != 1 {
		t.Fatalf("Expected 1 enclosure, got %d", len(item.Enclosures))
	}
	if item.Enclosures[0].Type != "application/pdf" || item.Enclosures[0].URL != item.Link {
		t.Errorf("Unexpected enclosure %+v", item.Enclosures[0])
	}
}

func TestGenerateWithBaseURL(t *testing.T) {
	setupTestConfig(t, "--base-url", "https://ann.example.com")
	generator := NewGenerator()

	rss, err := generator.Run(Channel{}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, `<atom:link href="https://ann.example.com/feeds/announcements"`) {
		t.Error("RSS should use the configured base URL for the self link")
	}
	if strings.Contains(rss, "<item>") {
		t.Error("Empty RSS should not contain any items")
	}
	if !strings.Contains(rss, "<title>Announcements</title>") {
		t.Error("RSS should fall back to the default channel title")
	}
	if !strings.Contains(rss, "</rss>") {
		t.Error("RSS should contain closing rss tag")
	}
}

func TestGenerateWithSpecialCharacters(t *testing.T) {
	setupTestConfig(t)
	generator := NewGenerator()

	anns := []database.Announcement{{
		ID:        7,
		StockCode: "600000",
		StockName: "A&B <Group>",
		Title:     `"Notice" on <something>`,
		URL:       "http://static.example.com/doc?id=7&type=pdf",
	}}

	rss, err := generator.Run(Channel{}, anns)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, "A&amp;B &lt;Group&gt;: &#34;Notice&#34; on &lt;something&gt;") {
		t.Error("Item title should have escaped special characters")
	}
	if !strings.Contains(rss, `url="http://static.example.com/doc?id=7&amp;type=pdf"`) {
		t.Error("Enclosure URL should be escaped")
	}
	if strings.Contains(rss, "<pubDate>") {
		t.Error("Items without a date should not carry pubDate")
	}

	if _, err := gofeed.NewParser().ParseString(rss); err != nil {
		t.Fatalf("Generated RSS should parse, got: %v", err)
	}
}

func TestItemTitleWithoutStockName(t *testing.T) {
	got := itemTitle(database.Announcement{Title: "年度报告"})
	if got != "年度报告" {
		t.Errorf("Expected bare title, got '%s'", got)
	}
}

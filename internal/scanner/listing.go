package scanner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// EntryKind classifies one listing entry by its display name alone; the
// listing markup gives no structural difference between files and
// folders we can rely on.
type EntryKind int

const (
	KindVideo EntryKind = iota
	KindFolder
	KindUnknown
)

const (
	viewerURLFormat    = "https://drive.google.com/file/d/%s/view"
	folderURLFormat    = "https://drive.google.com/drive/folders/%s"
	providerTitleStamp = "Google Drive"
)

var (
	videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".webm"}

	// The listing appends a spoken file-type decoration to tooltips.
	formatDecoration = regexp.MustCompile(`(?i)\s+(Video|MKV|AVI|MOV|WEBM|MP4)$`)

	// Shared-folder decoration text that must be stripped before a name
	// can be judged extension-less.
	sharedDecoration = regexp.MustCompile(`(?i)\s*(\(Shared\)|Shared folder)\s*$`)

	// Anything ending in a short dotted suffix is some kind of file.
	fileExtension = regexp.MustCompile(`\.[A-Za-z0-9]{2,4}$`)

	titleSuffix = regexp.MustCompile(`^(.+?)\s*-\s*` + providerTitleStamp + `$`)
)

type (
	// VideoItem is one discovered video: its viewer URL and canonical
	// display name (extension and decoration stripped).
	VideoItem struct {
		URL  string
		Name string
	}

	// FolderItem is one discovered subfolder candidate.
	FolderItem struct {
		URL  string
		Name string
	}

	// Listing is everything one folder scan extracts from the page.
	Listing struct {
		Title      string
		Videos     []VideoItem
		Subfolders []FolderItem
	}
)

// Classify decides what a listing entry is from its display name. Names
// carrying a known video extension are videos; names carrying any other
// recognizable extension are ignored; extension-less names (after
// stripping shared-folder decoration) are subfolder candidates.
func Classify(name string) EntryKind {
	name = strings.TrimSpace(name)
	if name == "" {
		return KindUnknown
	}

	lower := strings.ToLower(formatDecoration.ReplaceAllString(name, ""))
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return KindVideo
		}
	}

	stripped := strings.TrimSpace(sharedDecoration.ReplaceAllString(name, ""))
	if stripped == "" {
		return KindUnknown
	}
	if fileExtension.MatchString(stripped) {
		return KindUnknown
	}

	return KindFolder
}

// ParseListing extracts the folder title, video items and subfolder
// candidates from a rendered listing page. It fails if any entry
// classified as a video resolves to an empty name: partial or garbled
// extraction is worse than an explicit failure.
func ParseListing(html string) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing markup: %w", err)
	}

	listing := &Listing{Title: extractTitle(doc)}

	var parseErr error
	doc.Find("[data-id]").EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		id, _ := selection.Attr("data-id")
		if id == "" || id == "_gd" {
			return true
		}

		name, _ := selection.Find("[data-tooltip]").First().Attr("data-tooltip")
		switch Classify(name) {
		case KindVideo:
			cleaned := videoBaseName(name)
			if cleaned == "" {
				parseErr = fmt.Errorf("failed to extract a name for video entry %s; cannot proceed without valid file names", id)
				return false
			}

			listing.Videos = append(listing.Videos, VideoItem{
				URL:  fmt.Sprintf(viewerURLFormat, id),
				Name: cleaned,
			})
		case KindFolder:
			listing.Subfolders = append(listing.Subfolders, FolderItem{
				URL:  fmt.Sprintf(folderURLFormat, id),
				Name: strings.TrimSpace(sharedDecoration.ReplaceAllString(name, "")),
			})
		}

		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return listing, nil
}

// videoBaseName strips the tooltip decoration and the video extension,
// leaving the canonical display name used for the destination artifact.
func videoBaseName(name string) string {
	cleaned := strings.TrimSpace(formatDecoration.ReplaceAllString(name, ""))
	lower := strings.ToLower(cleaned)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return strings.TrimSpace(cleaned[:len(cleaned)-len(ext)])
		}
	}

	return cleaned
}

// extractTitle pulls a best-effort human folder title out of the page
// metadata; an empty string means the placeholder name is kept.
func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if groups := titleSuffix.FindStringSubmatch(title); len(groups) == 2 {
		return strings.TrimSpace(groups[1])
	}

	if meta, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		meta = strings.TrimSpace(meta)
		if meta != "" && !strings.Contains(meta, providerTitleStamp) {
			return meta
		}
	}

	return ""
}

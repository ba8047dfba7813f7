package catalog

import (
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
)

// FileEntry is one downloadable file from a dataset's files listing.
type FileEntry struct {
	Name     string
	URL      string
	Size     int64
	Modified time.Time
	// ModifiedRaw keeps the server's original timestamp text for entries
	// whose format we could not parse.
	ModifiedRaw string
}

// Layouts seen on ERDDAP files pages across server versions.
var modifiedLayouts = []string{
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"02-Jan-2006 15:04",
	"2006-01-02 15:04:05",
}

// parseFileListing extracts the file table from an ERDDAP files page. The
// page carries several tables (navigation, breadcrumbs) before the listing;
// the listing rows are recognized by shape: at least four cells with a
// linked file name in the second cell. Row order is preserved.
func parseFileListing(r io.Reader, baseURL string) ([]FileEntry, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var entries []FileEntry

	for _, table := range findAll(doc, "table") {
		for _, row := range findAll(table, "tr") {
			cells := findAll(row, "td")
			if len(cells) < 4 {
				continue
			}

			// Columns: icon, name, last modified, size, description.
			link := findFirst(cells[1], "a")
			if link == nil {
				continue
			}

			name := strings.TrimSpace(text(link))
			if name == "" || strings.HasPrefix(name, "Parent") || strings.HasSuffix(name, "/") {
				continue
			}

			entry := FileEntry{
				Name:        name,
				URL:         joinURL(baseURL, href(link), name),
				ModifiedRaw: strings.TrimSpace(text(cells[2])),
			}

			entry.Size = parseSize(strings.TrimSpace(text(cells[3])))
			entry.Modified = parseModified(entry.ModifiedRaw)

			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// parseSize handles both plain byte counts and humanized values such as
// "1.2 MB".
func parseSize(s string) int64 {
	if s == "" {
		return 0
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}

	return int64(n)
}

func parseModified(s string) time.Time {
	for _, layout := range modifiedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

// joinURL resolves the row's own href against the listing URL, falling back
// to the escaped file name when the anchor has no usable href.
func joinURL(baseURL, linkHref, name string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return baseURL + url.PathEscape(name)
	}

	if linkHref != "" {
		if ref, err := url.Parse(linkHref); err == nil {
			return base.ResolveReference(ref).String()
		}
	}

	ref := &url.URL{Path: name}

	return base.ResolveReference(ref).String()
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)

			// Tables and rows do not nest on these pages; no need to
			// descend into a match.
			return
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	walk(n)

	return out
}

func findFirst(n *html.Node, tag string) *html.Node {
	found := findAll(n, tag)
	if len(found) == 0 {
		return nil
	}

	return found[0]
}

func text(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	walk(n)

	return sb.String()
}

func href(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			return attr.Val
		}
	}

	return ""
}

package images

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
)

var centosStreams = []struct {
	marker  string
	version int
}{
	{"/centos/9-stream/", 9},
	{"/centos/8-stream/", 8},
}

// streamVersion finds the CentOS Stream major version named in an index URL.
func streamVersion(url string) (int, error) {
	for _, stream := range centosStreams {
		if strings.Contains(url, stream.marker) {
			return stream.version, nil
		}
	}
	return 0, fmt.Errorf("could not determine CentOS version from %s", url)
}

// imageVersion is the date.serial token of a cloud image file name, e.g.
// 20230704.1, compared numerically.
type imageVersion struct {
	date   int
	serial int
}

func (v imageVersion) less(o imageVersion) bool {
	if v.date != o.date {
		return v.date < o.date
	}
	return v.serial < o.serial
}

type indexEntry struct {
	name    string
	version imageVersion
}

func (l *Locator) centosImage(ctx context.Context, indexURL string) (string, error) {
	base := withTrailingSlash(indexURL)
	version, err := streamVersion(base)
	if err != nil {
		return "", err
	}

	body, _, err := l.get(ctx, indexURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	links, err := indexLinks(body)
	if err != nil {
		return "", fmt.Errorf("parse index %s: %w", indexURL, err)
	}

	name, err := latestCloudImage(links, version, l.arch().String())
	if err != nil {
		return "", fmt.Errorf("%s: %w", indexURL, err)
	}
	return base + name, nil
}

// latestCloudImage picks the GenericCloud qcow2 with the greatest version.
func latestCloudImage(links []string, streamVersion int, arch string) (string, error) {
	pattern := regexp.MustCompile(fmt.Sprintf(
		`^CentOS-Stream-GenericCloud-%d-([1-9][0-9]+)[.]([0-9]+)[.]%s[.]qcow2$`,
		streamVersion, regexp.QuoteMeta(arch),
	))

	var entries []indexEntry
	for _, link := range links {
		match := pattern.FindStringSubmatch(link)
		if match == nil {
			continue
		}
		date, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		serial, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		entries = append(entries, indexEntry{name: link, version: imageVersion{date: date, serial: serial}})
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no CentOS Stream %d GenericCloud image for %s in index", streamVersion, arch)
	}

	latest := lo.MaxBy(entries, func(a, b indexEntry) bool {
		return b.version.less(a.version)
	})
	return latest.name, nil
}

// indexLinks returns the qcow2 hrefs of an Apache style directory listing,
// taken from the first link in each td.indexcolname cell.
func indexLinks(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "td" && hasClass(n, "indexcolname") {
			if href, ok := firstHref(n); ok && strings.HasSuffix(href, ".qcow2") {
				links = append(links, href)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, field := range strings.Fields(attr.Val) {
			if field == class {
				return true
			}
		}
	}
	return false
}

func firstHref(n *html.Node) (string, bool) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "a" {
			for _, attr := range child.Attr {
				if attr.Key == "href" {
					return attr.Val, true
				}
			}
			return "", false
		}
		if href, ok := firstHref(child); ok {
			return href, true
		}
	}
	return "", false
}

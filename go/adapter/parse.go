package adapter

import (
	"net/url"
	"strings"

	"github.com/Gawain27/PubScraper/go/store"
	"golang.org/x/net/html"
)

// Built-in parsers for the ranking portals and the author index. They pull
// the obvious structure out of the markup; sources accept replacements for
// markup drift without touching the crawl graph.

// parseScimagoPage reads the ranking table of one listing page. An empty
// table marks the end of the year's listing.
func parseScimagoPage(page string, year string, pageNo int) (store.Doc, error) {
	var rows = tableRows(page)
	var records = make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		records = append(records, map[string]any{
			"rank":  row[0],
			"title": row[1],
			"sjr":   row[2],
		})
	}
	return store.Doc{
		"year":    year,
		"page":    pageNo,
		"records": records,
		"is_end":  len(records) == 0,
	}, nil
}

// parseCorePage reads the conference table of one portal page.
func parseCorePage(page string, pageNo int) (store.Doc, error) {
	var rows = tableRows(page)
	var records = make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		records = append(records, map[string]any{
			"title":   row[0],
			"acronym": row[1],
			"source":  row[2],
			"rank":    row[3],
		})
	}
	return store.Doc{"page": pageNo, "records": records}, nil
}

// DefaultScholarParsers extracts profiles and publications from the author
// index markup: publication identifiers from citation links, coauthor
// names from profile links.
func DefaultScholarParsers() ScholarParsers {
	return ScholarParsers{
		Author: func(page, name, favoredOrg string) (store.Doc, error) {
			var links = anchors(page)
			var authorID string
			var pubs, coauthors []string

			for _, a := range links {
				if id := queryParam(a.href, "citation_for_view"); id != "" {
					pubs = append(pubs, id)
					continue
				}
				if id := queryParam(a.href, "user"); id != "" {
					if authorID == "" && strings.EqualFold(a.text, name) {
						authorID = id
					} else if a.text != "" && !strings.EqualFold(a.text, name) {
						coauthors = append(coauthors, a.text)
					}
				}
			}
			if authorID == "" {
				// Ambiguous profile search: fall back to the favored
				// organization hint, then to the first profile hit.
				for _, a := range links {
					if id := queryParam(a.href, "user"); id != "" {
						if authorID == "" || strings.Contains(a.text, favoredOrg) {
							authorID = id
						}
					}
				}
			}
			if authorID == "" {
				return nil, ErrEntityShape
			}
			return store.Doc{
				"name":         name,
				"author_id":    authorID,
				"publications": pubs,
				"coauthors":    coauthors,
			}, nil
		},

		Pub: func(page, pubID string) (store.Doc, error) {
			var title string
			var authors []string
			for _, a := range anchors(page) {
				if title == "" && queryParam(a.href, "citation_for_view") != "" {
					title = a.text
				}
				if queryParam(a.href, "user") != "" && a.text != "" {
					authors = append(authors, a.text)
				}
			}
			if title == "" {
				return nil, ErrEntityShape
			}
			return store.Doc{
				"pub_id":  pubID,
				"title":   title,
				"authors": authors,
			}, nil
		},

		Citations: func(page, pubID string) (store.Doc, error) {
			var records = make([]any, 0)
			for _, a := range anchors(page) {
				if id := queryParam(a.href, "cluster"); id != "" && a.text != "" {
					records = append(records, map[string]any{"cluster": id, "title": a.text})
				}
			}
			return store.Doc{"pub_id": pubID, "records": records}, nil
		},

		Versions: func(page, pubID string) (store.Doc, error) {
			var records = make([]any, 0)
			for _, a := range anchors(page) {
				if a.text != "" && strings.HasPrefix(a.href, "http") {
					records = append(records, map[string]any{"url": a.href, "title": a.text})
				}
			}
			return store.Doc{"pub_id": pubID, "records": records}, nil
		},
	}
}

type anchor struct {
	href string
	text string
}

// anchors returns every <a href> with its immediate text content.
func anchors(page string) []anchor {
	var out []anchor
	var z = html.NewTokenizer(strings.NewReader(page))
	var cur *anchor

	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken:
			var name, hasAttr = z.TagName()
			if string(name) != "a" {
				continue
			}
			cur = &anchor{}
			for hasAttr {
				var key, val, more = z.TagAttr()
				if string(key) == "href" {
					cur.href = string(val)
				}
				hasAttr = more
			}
		case html.TextToken:
			if cur != nil {
				cur.text += strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			var name, _ = z.TagName()
			if string(name) == "a" && cur != nil {
				out = append(out, *cur)
				cur = nil
			}
		}
	}
}

// tableRows returns the cell texts of every table row on the page.
func tableRows(page string) [][]string {
	var rows [][]string
	var z = html.NewTokenizer(strings.NewReader(page))
	var row []string
	var inRow, inCell bool
	var cell strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			return rows
		case html.StartTagToken:
			switch name, _ := z.TagName(); string(name) {
			case "tr":
				inRow, row = true, nil
			case "td", "th":
				if inRow {
					inCell = true
					cell.Reset()
				}
			}
		case html.TextToken:
			if inCell {
				cell.Write(z.Text())
			}
		case html.EndTagToken:
			switch name, _ := z.TagName(); string(name) {
			case "td", "th":
				if inCell {
					row = append(row, strings.TrimSpace(cell.String()))
					inCell = false
				}
			case "tr":
				if inRow && len(row) > 0 {
					rows = append(rows, row)
				}
				inRow = false
			}
		}
	}
}

// queryParam pulls one query parameter out of a link, tolerating relative
// and malformed URLs.
func queryParam(href, key string) string {
	var u, err = url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

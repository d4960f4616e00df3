// Package links discovers the current per-interval download URLs from
// the site's database page. URLs are time-sensitive, so discovery runs
// fresh on every invocation.
package links

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/stooq"
)

// PageFetcher is the slice of the site client the finder needs
type PageFetcher interface {
	GetBody(ctx context.Context, rawURL string) ([]byte, error)
	BaseURL() string
}

// Link is one resolved download reference
type Link struct {
	Interval stooq.Interval
	URL      string
	// Filename is the expected server-side file name, YYYYMMDD plus
	// the interval suffix plus ".txt".
	Filename string
}

// LinkSet maps an interval to its resolved download link
type LinkSet map[stooq.Interval]Link

// Row is one dated row of the database page listing
type Row struct {
	// Date is the row's publication date, zero when the row text did
	// not carry a parseable date prefix.
	Date  time.Time
	Links LinkSet
}

// Link returns the row's link for an interval, or a link_not_found
// error when the row does not expose that interval.
func (r Row) Link(interval stooq.Interval) (Link, error) {
	l, ok := r.Links[interval]
	if !ok {
		return Link{}, errs.New(errs.ErrorTypeLinkNotFound,
			"no %s link in row dated %s", interval, r.Date.Format("2006-01-02"))
	}
	return l, nil
}

// Discovery is the parsed state of the database page
type Discovery struct {
	// RefDate is the date of the latest "12:00" update row, adjusted
	// back to Friday when it falls on a weekend. Zero when the page
	// showed no such row.
	RefDate time.Time
	// Rows holds every link-bearing row in page order, newest first
	Rows []Row
}

// Candidates returns up to limit rows to attempt, rows matching the
// reference date first. A non-positive limit returns all rows.
func (d *Discovery) Candidates(limit int) []Row {
	ordered := make([]Row, 0, len(d.Rows))
	if !d.RefDate.IsZero() {
		for _, r := range d.Rows {
			if sameDay(r.Date, d.RefDate) {
				ordered = append(ordered, r)
			}
		}
		for _, r := range d.Rows {
			if !sameDay(r.Date, d.RefDate) {
				ordered = append(ordered, r)
			}
		}
	} else {
		ordered = append(ordered, d.Rows...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered
}

// ForDate returns only the rows whose expected file names contain the
// given YYYYMMDD date.
func (d *Discovery) ForDate(yyyymmdd string) []Row {
	var rows []Row
	for _, r := range d.Rows {
		for _, l := range r.Links {
			if strings.Contains(l.Filename, yyyymmdd) {
				rows = append(rows, r)
				break
			}
		}
	}
	return rows
}

// Finder parses the database page into dated download rows
type Finder struct {
	site PageFetcher
	log  logger.Logger
	now  func() time.Time
}

// NewFinder creates a finder over an authenticated site client
func NewFinder(site PageFetcher, log logger.Logger) *Finder {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Finder{site: site, log: log, now: time.Now}
}

// refDatePattern matches row text like "18 Jan, 12:00"
var refDatePattern = regexp.MustCompile(`(\d{1,2})\s+([A-Za-z]{3}),?\s+12:00`)

// Discover fetches the database page and extracts every row carrying
// download links for the requested intervals. An empty result is not
// an error; per-interval absence surfaces through Row.Link.
func (f *Finder) Discover(ctx context.Context, intervals []stooq.Interval) (*Discovery, error) {
	body, err := f.site.GetBody(ctx, "")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnparsable, "cannot parse database page: %v", err)
	}

	d := &Discovery{RefDate: f.findRefDate(doc)}

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		row := Row{Links: LinkSet{}}
		tr.Find("a").Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok {
				return
			}
			text := strings.TrimSpace(a.Text())
			for _, interval := range intervals {
				if !strings.HasSuffix(text, interval.Suffix()) {
					continue
				}
				date := f.linkDate(text)
				if row.Date.IsZero() {
					row.Date = date
				}
				row.Links[interval] = Link{
					Interval: interval,
					URL:      f.resolveHref(href),
					Filename: f.expectedFilename(text, date),
				}
			}
		})
		if len(row.Links) > 0 {
			d.Rows = append(d.Rows, row)
		}
	})

	f.log.InfoWithFields("database page scanned", map[string]interface{}{
		"rows":     len(d.Rows),
		"ref_date": d.RefDate.Format("2006-01-02"),
	})
	return d, nil
}

// findRefDate locates the latest "12:00" update row and adjusts
// weekend dates back to the preceding Friday.
func (f *Finder) findRefDate(doc *goquery.Document) time.Time {
	var ref time.Time
	doc.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		text := tr.Text()
		if !strings.Contains(text, "12:00") {
			return true
		}
		m := refDatePattern.FindStringSubmatch(text)
		if m == nil {
			return false
		}
		day, err := strconv.Atoi(m[1])
		if err != nil {
			return false
		}
		month, ok := monthByName(m[2])
		if !ok {
			return false
		}
		ref = time.Date(f.yearFor(month), month, day, 0, 0, 0, 0, time.UTC)
		ref = adjustWeekend(ref)
		return false
	})
	return ref
}

// linkDate derives a row date from the MMDD prefix of a link text such
// as "0116_d".
func (f *Finder) linkDate(text string) time.Time {
	if len(text) < 4 {
		return time.Time{}
	}
	month, err1 := strconv.Atoi(text[:2])
	day, err2 := strconv.Atoi(text[2:4])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	m := time.Month(month)
	return time.Date(f.yearFor(m), m, day, 0, 0, 0, 0, time.UTC)
}

// yearFor rolls December data seen in January back to the prior year
func (f *Finder) yearFor(month time.Month) int {
	now := f.now()
	year := now.Year()
	if now.Month() == time.January && month == time.December {
		year--
	}
	return year
}

// expectedFilename turns a link text like "0116_d" into the
// server-side name "20260116_d.txt".
func (f *Finder) expectedFilename(text string, date time.Time) string {
	year := f.now().Year()
	if !date.IsZero() {
		year = date.Year()
	}
	return strconv.Itoa(year) + text + ".txt"
}

// resolveHref expands the page's relative hrefs against the site root
func (f *Finder) resolveHref(href string) string {
	href = strings.TrimPrefix(href, "/")
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	base, err := url.Parse(f.site.BaseURL())
	if err != nil {
		return href
	}
	if strings.Contains(href, "db/") {
		root := *base
		root.Path = "/"
		root.RawQuery = ""
		return strings.TrimSuffix(root.String(), "/") + "/" + href
	}
	return strings.TrimSuffix(base.String(), "/") + "/" + href
}

// adjustWeekend moves Saturday and Sunday dates back to Friday, since
// the site publishes no weekend updates.
func adjustWeekend(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, -2)
	}
	return d
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

func monthByName(name string) (time.Month, bool) {
	m, ok := monthNames[strings.ToLower(name)]
	return m, ok
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

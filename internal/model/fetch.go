package model

import "time"

// FetchStatus describes how a single page fetch concluded.
type FetchStatus string

const (
	FetchOK        FetchStatus = "ok"
	FetchTimeout   FetchStatus = "timeout"
	FetchCancelled FetchStatus = "cancelled"
	FetchFailed    FetchStatus = "failed"
)

// AllFetchStatuses returns every fetch status in reporting order.
func AllFetchStatuses() []FetchStatus {
	return []FetchStatus{FetchOK, FetchTimeout, FetchCancelled, FetchFailed}
}

// FetchTarget is one URL submitted to the fetcher. Index is its position in
// the submitted link list and survives to aggregation.
type FetchTarget struct {
	Index int    `json:"index" yaml:"index"`
	URL   string `json:"url" yaml:"url"`
}

// FetchOutcome is the single result recorded for a FetchTarget.
// Body and Text are only populated when Status is FetchOK.
type FetchOutcome struct {
	Index    int           `json:"index" yaml:"index"`
	URL      string        `json:"url" yaml:"url"`
	Status   FetchStatus   `json:"status" yaml:"status"`
	FinalURL string        `json:"final_url,omitempty" yaml:"final_url,omitempty"`
	Body     []byte        `json:"-" yaml:"-"`
	Text     string        `json:"-" yaml:"-"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
	Err      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Document returns the cleaned document for a successful outcome. The second
// return value is false when the outcome carries no usable text.
func (o FetchOutcome) Document() (CleanedDocument, bool) {
	if o.Status != FetchOK || o.Text == "" {
		return CleanedDocument{}, false
	}
	return CleanedDocument{Index: o.Index, Text: o.Text}, true
}

// CleanedDocument is the sanitized text of one fetched page.
type CleanedDocument struct {
	Index int
	Text  string
}

// FetchCounts tallies outcomes per status.
type FetchCounts struct {
	OK        int `json:"ok" yaml:"ok"`
	Timeout   int `json:"timeout" yaml:"timeout"`
	Cancelled int `json:"cancelled" yaml:"cancelled"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Add increments the counter for s.
func (c *FetchCounts) Add(s FetchStatus) {
	switch s {
	case FetchOK:
		c.OK++
	case FetchTimeout:
		c.Timeout++
	case FetchCancelled:
		c.Cancelled++
	case FetchFailed:
		c.Failed++
	}
}

// Total returns the number of counted outcomes.
func (c FetchCounts) Total() int {
	return c.OK + c.Timeout + c.Cancelled + c.Failed
}

package substore

// Metadata is the per-subject bookkeeping record: access counters and
// the content-hash validity tag, stored out-of-band at
// metadata:<namespace>:<id>.
type Metadata struct {
	AccessCount  int64  `json:"accessCount"`
	CreatedAt    int64  `json:"createdAt"`
	LastAccessAt int64  `json:"lastAccessAt"`
	UpdatedAt    int64  `json:"updatedAt"`
	DataHash     string `json:"dataHash"`
	NumTxs       int    `json:"numTxs"`
}

// pageHeader is the {pageCount,totalTxs} header written alongside a
// chunked txOrder/txMap.
type pageHeader struct {
	PageCount int `json:"pageCount"`
	TotalTxs  int `json:"totalTxs"`
}

package mirror

import (
	"strings"

	"nsemirror/lib/scrapers/nse"
)

const (
	Events     = "events"
	FOHolidays = "fo_holidays"
	BulkDeals  = "bulk_deals"
	BlockDeals = "block_deals"
	PreOpen    = "pre_open"
)

// Descriptor is everything the orchestrator needs to mirror one dataset.
type Descriptor struct {
	ID     string
	Schema []string
	// Filename is relative to the output directory.
	Filename string
	Tab      string
	// Sources are tried in order until one yields records.
	Sources []nse.Source
}

var eventColumns = []string{"symbol", "company", "purpose", "bm_desc", "date"}

var holidayColumns = []string{"tradingDate", "weekDay", "description", "morning_session", "evening_session", "Sr_no"}

var dealColumns = []string{
	"Date",
	"Symbol",
	"Security Name",
	"Client Name",
	"Buy/Sell",
	"Quantity Traded",
	"Trade Price / Wght. Avg. Price",
	"Remarks",
}

var preOpenColumns = []string{
	"symbol",
	"identifier",
	"purpose",
	"lastPrice",
	"change",
	"pChange",
	"previousClose",
	"finalQuantity",
	"totalTurnover",
	"marketCap",
	"yearHigh",
	"yearLow",
	"iep",
}

var holidayPageAliases = map[string]string{
	"Sr. No":      "Sr_no",
	"Sr No":       "Sr_no",
	"Date":        "tradingDate",
	"Day":         "weekDay",
	"Description": "description",
}

// the historical deals api prefixes its keys with BD_ or BK_ depending on
// the endpoint revision
func dealAliases() map[string]string {
	fields := map[string]string{
		"DT_DATE":     "Date",
		"SYMBOL":      "Symbol",
		"SCRIP_NAME":  "Security Name",
		"CLIENT_NAME": "Client Name",
		"BUY_SELL":    "Buy/Sell",
		"QTY_TRD":     "Quantity Traded",
		"TP_WATP":     "Trade Price / Wght. Avg. Price",
		"REMARKS":     "Remarks",
	}
	out := map[string]string{}
	for _, prefix := range []string{"BD_", "BK_"} {
		for k, v := range fields {
			out[prefix+k] = v
		}
	}
	return out
}

func DatasetIds() []string {
	return []string{Events, FOHolidays, BulkDeals, BlockDeals, PreOpen}
}

// DefaultDescriptors is the catalog of mirrored datasets in run order.
func DefaultDescriptors(cfg Config) []Descriptor {
	api := strings.TrimSuffix(cfg.ApiBase, "/")
	archive := strings.TrimSuffix(cfg.ArchiveBase, "/")

	deals := func(id, kind, filename, tab string) Descriptor {
		return Descriptor{
			ID:       id,
			Schema:   dealColumns,
			Filename: filename,
			Tab:      tab,
			Sources: []nse.Source{
				nse.CSVSource{
					Label:  kind + "-csv",
					Url:    archive + "/content/equities/" + kind + ".csv",
					Public: true,
				},
				nse.JSONSource{
					Label:   kind + "-api",
					Url:     api + "/api/historical/" + kind + "-deals?from={from}&to={to}",
					Unwrap:  "data",
					Aliases: dealAliases(),
				},
			},
		}
	}

	return []Descriptor{
		{
			ID:       Events,
			Schema:   eventColumns,
			Filename: "nse_events.csv",
			Tab:      "NSE_Events",
			Sources: []nse.Source{
				nse.JSONSource{
					Label: "event-calendar",
					Url:   api + "/api/event-calendar?index=equities&from_date={from}&to_date={to}",
				},
				nse.JSONSource{
					Label: "event-calendar-undated",
					Url:   api + "/api/event-calendar?index=equities",
				},
			},
		},
		{
			ID:       FOHolidays,
			Schema:   holidayColumns,
			Filename: "fo_holidays.csv",
			Tab:      "FO_Holidays",
			Sources: []nse.Source{
				nse.JSONSource{
					Label:  "holiday-master",
					Url:    api + "/api/holiday-master?type=trading",
					Unwrap: "FO",
				},
				nse.HTMLTableSource{
					Label:   "holiday-page",
					Url:     api + "/resources/exchange-communication-holidays",
					Columns: holidayColumns,
					Aliases: holidayPageAliases,
				},
			},
		},
		deals(BulkDeals, "bulk", "bulk_deals.csv", "Bulk_Deals"),
		deals(BlockDeals, "block", "block_deals.csv", "Block_Deals"),
		{
			ID:       PreOpen,
			Schema:   preOpenColumns,
			Filename: "pre_open.csv",
			Tab:      "Pre_Open",
			Sources: []nse.Source{
				nse.JSONSource{
					Label:  "pre-open-fo",
					Url:    api + "/api/market-data-pre-open?key=FO",
					Unwrap: "data",
					Record: "metadata",
				},
				nse.JSONSource{
					Label:  "pre-open-all",
					Url:    api + "/api/market-data-pre-open?key=ALL",
					Unwrap: "data",
					Record: "metadata",
				},
			},
		},
	}
}

// SelectDescriptors keeps the descriptors named in `ids`, in catalog order.
// An empty `ids` keeps everything.
func SelectDescriptors(all []Descriptor, ids []string) []Descriptor {
	if len(ids) == 0 {
		return all
	}
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var out []Descriptor
	for _, d := range all {
		if wanted[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

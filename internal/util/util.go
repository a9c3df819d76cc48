package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Very simple {var} replacement for campaign bodies. Template body lives on
// the campaign row.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func newULID(prefix string) string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewEmailLogID() string    { return newULID("log_") }
func NewEventID() string       { return newULID("evt_") }
func NewSuppressionID() string { return newULID("sup_") }
func NewTenantID() string      { return newULID("tnt_") }
func NewCampaignID() string    { return newULID("cmp_") }
func NewSubscriberID() string  { return newULID("sub_") }

func NowUTC() time.Time {
	return time.Now().UTC()
}

func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

package history

import (
	"sort"
	"time"

	"github.com/lalithlochan/stationnotify/internal/db"
)

const (
	topRecipientsLimit = 10
	dailyStatsDays     = 30
)

// Report summarizes delivery history.
type Report struct {
	TotalSent      int              `json:"total_sent"`
	TotalDelivered int              `json:"total_delivered"`
	TotalFailed    int              `json:"total_failed"`
	DeliveryRate   float64          `json:"delivery_rate"`
	AverageCost    float64          `json:"average_cost"`
	TotalCost      float64          `json:"total_cost"`
	TopRecipients  []RecipientCount `json:"top_recipients"`
	DailyStats     []DailyCount     `json:"daily_stats"`
}

type RecipientCount struct {
	Recipient string `json:"recipient"`
	Count     int    `json:"count"`
}

type DailyCount struct {
	Date      string `json:"date"`
	Sent      int    `json:"sent"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// Aggregate computes a Report. Every record counts as one attempt in
// TotalSent. Daily stats cover the 30 days ending on now's date, in now's
// location, and include empty days.
func Aggregate(records []*db.DeliveryRecord, now time.Time) *Report {
	rep := &Report{
		TopRecipients: []RecipientCount{},
	}

	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	daily := make([]DailyCount, dailyStatsDays)
	index := make(map[string]int, dailyStatsDays)
	for i := 0; i < dailyStatsDays; i++ {
		day := today.AddDate(0, 0, i-dailyStatsDays+1)
		key := day.Format("2006-01-02")
		daily[i] = DailyCount{Date: key}
		index[key] = i
	}

	perRecipient := make(map[string]int)

	for _, rec := range records {
		rep.TotalSent++
		rep.TotalCost += rec.Cost
		perRecipient[rec.Recipient]++

		switch rec.Status {
		case db.StatusSent:
			rep.TotalDelivered++
		case db.StatusFailed:
			rep.TotalFailed++
		}

		if i, ok := index[rec.SentAt.In(loc).Format("2006-01-02")]; ok {
			daily[i].Sent++
			switch rec.Status {
			case db.StatusSent:
				daily[i].Delivered++
			case db.StatusFailed:
				daily[i].Failed++
			}
		}
	}

	if rep.TotalSent > 0 {
		rep.DeliveryRate = float64(rep.TotalDelivered) / float64(rep.TotalSent) * 100
		rep.AverageCost = rep.TotalCost / float64(rep.TotalSent)
	}

	for recipient, n := range perRecipient {
		rep.TopRecipients = append(rep.TopRecipients, RecipientCount{Recipient: recipient, Count: n})
	}
	sort.Slice(rep.TopRecipients, func(i, j int) bool {
		a, b := rep.TopRecipients[i], rep.TopRecipients[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Recipient < b.Recipient
	})
	if len(rep.TopRecipients) > topRecipientsLimit {
		rep.TopRecipients = rep.TopRecipients[:topRecipientsLimit]
	}

	rep.DailyStats = daily
	return rep
}

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/finopsmind/billing/internal/billingapi"
	"github.com/finopsmind/billing/internal/model"
)

type dashboardResult struct {
	summary model.DashboardSummary
	err     error
}

// watchDashboard refreshes the dashboard every interval. A refresh that is
// still running when the next one starts is cancelled and its result is
// dropped, so a slow response can never overwrite a newer one. It returns
// after count rendered refreshes, or when ctx is done if count is 0.
func watchDashboard(ctx context.Context, w io.Writer, api API, period model.BillingPeriod, interval time.Duration, count int) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var latest billingapi.Latest
	results := make(chan dashboardResult)

	refresh := func() {
		go func() {
			d, ok, err := billingapi.Fetch(ctx, &latest, func(ctx context.Context) (model.DashboardSummary, error) {
				return api.Dashboard(ctx, period)
			})
			if !ok {
				return
			}
			select {
			case results <- dashboardResult{summary: d, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	refresh()

	rendered := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		case res := <-results:
			fmt.Fprintf(w, "\n%s refreshed at %s\n", brightCyan("billingctl dashboard"), time.Now().Format(time.TimeOnly))
			if res.err != nil {
				fmt.Fprintln(w, boldRed("refresh failed: "+res.err.Error()))
			} else if err := renderDashboard(w, res.summary); err != nil {
				return err
			}
			rendered++
			if count > 0 && rendered >= count {
				return nil
			}
		}
	}
}

package asin

import (
	"context"
	"net/http"
	"time"
)

const availabilityTimeout = 10 * time.Second

// checkDPPage issues a HEAD request (falling back to GET if the host
// rejects HEAD) against an ASIN's marketplace detail page and reports
// whether it resolves to a successful response.
func checkDPPage(ctx context.Context, host, asinCode string) (bool, error) {
	client := &http.Client{Timeout: availabilityTimeout}
	url := "https://www." + host + "/dp/" + asinCode

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; calibre-pipeline)")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		getReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; calibre-pipeline)")
		getResp, err := client.Do(getReq)
		if err != nil {
			return false, err
		}
		defer getResp.Body.Close()
		return getResp.StatusCode >= 200 && getResp.StatusCode < 300, nil
	}

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

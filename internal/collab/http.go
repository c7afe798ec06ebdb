package collab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// minMediaBytes guards against saving an API error page as a media file.
const minMediaBytes = 100

// fetchMedia downloads a generated media file to disk, retrying transient
// failures. Generation APIs occasionally time out mid-render; three attempts
// with linear backoff clears the common cases without masking real outages.
func fetchMedia(ctx context.Context, client *http.Client, url, outFile string) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = downloadOnce(ctx, client, url, outFile)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	return fmt.Errorf("fetch failed after 3 attempts: %w", err)
}

func downloadOnce(ctx context.Context, client *http.Client, url, outFile string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "docuforge/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) < minMediaBytes {
		return fmt.Errorf("response too small (%d bytes), likely an API error", len(data))
	}
	return os.WriteFile(outFile, data, 0o644)
}

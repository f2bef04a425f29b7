package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxDownloadBytes matches the Bot API getFile limit.
const maxDownloadBytes = 20 << 20

type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.do(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile: no file_path for %s", fileID)
	}
	return &f, nil
}

// Download resolves fileID and returns the file contents.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(fileBaseURL, c.token, f.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build telegram download: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download failed: %w", redact(err, c.token))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram download: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read telegram download: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("telegram download: file larger than %d bytes", maxDownloadBytes)
	}
	return data, nil
}

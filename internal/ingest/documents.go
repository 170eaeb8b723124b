// Package ingest holds the content collaborator invoked once per claimed job.
// It only retrieves and sanity-checks the raw document; extraction, chunking
// and embedding live behind downstream services and are not the pipeline's
// concern.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ingest-pipeline/internal/entity"
	"ingest-pipeline/internal/worker"
)

const maxDocumentBytes = 16 << 20

type Documents struct {
	client *http.Client
}

func NewDocuments(client *http.Client) *Documents {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Documents{client: client}
}

// Process fetches the job's origin document. Transport and status failures
// are fetch-class; an unusable body is processing-class.
func (d *Documents) Process(ctx context.Context, job entity.Job) error {
	url := job.OriginURL
	if url == "" {
		url = job.Source
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return worker.FetchError(fmt.Errorf("build request for %s: %w", url, err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return worker.FetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return worker.FetchError(fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return worker.FetchError(fmt.Errorf("read body of %s: %w", url, err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return worker.ProcessingError(fmt.Errorf("empty document at %s", url))
	}
	return nil
}

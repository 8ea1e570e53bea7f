package toolclient

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/glossarium/glossarium/pkg/models"
	"github.com/rs/zerolog/log"
)

// AnalyzerClient runs a subprocess-based morphological analyzer (a
// Whitaker's WORDS-style binary) and captures its stdout as the raw
// response body. The word under analysis comes from the "word" param;
// the endpoint selects a subcommand when the binary has several.
type AnalyzerClient struct {
	tool    string
	binary  string
	timeout time.Duration
}

// NewAnalyzerClient creates a subprocess client for one analyzer binary.
func NewAnalyzerClient(tool, binary string, timeout time.Duration) *AnalyzerClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AnalyzerClient{tool: tool, binary: binary, timeout: timeout}
}

func (c *AnalyzerClient) Execute(ctx context.Context, callID, endpoint string, params map[string]string) (*models.RawResponseEffect, error) {
	word := params["word"]
	if word == "" {
		return nil, fmt.Errorf("analyzer %q: call %s has no word param", c.tool, callID)
	}

	procCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := make([]string, 0, 2)
	if endpoint != "" {
		args = append(args, endpoint)
	}
	args = append(args, word)

	cmd := exec.CommandContext(procCtx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	// Analyzers signal "no analysis found" with a nonzero exit but
	// still print usable output; treat that as a response, not an error.
	statusCode := 200
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("analyzer %q: %w", c.tool, err)
		}
		statusCode = 422
		log.Debug().
			Str("tool", c.tool).
			Str("word", word).
			Str("stderr", stderr.String()).
			Msg("Analyzer exited nonzero")
	}

	return &models.RawResponseEffect{
		ResponseID:    models.NewResponseID(),
		Tool:          c.tool,
		CallID:        callID,
		Endpoint:      endpoint,
		StatusCode:    statusCode,
		ContentType:   "text/plain",
		Body:          stdout.Bytes(),
		ReceivedAt:    time.Now().UTC(),
		FetchDuration: elapsed.Milliseconds(),
	}, nil
}

package toolclient

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glossarium/glossarium/pkg/models"
)

// LexiconFileClient looks words up in line-oriented flat-file lexicons
// (one entry per line, headword first, tab-separated fields). The
// endpoint names the lexicon file inside the configured directory.
type LexiconFileClient struct {
	tool string
	dir  string
}

// NewLexiconFileClient creates a client over a directory of lexicon files.
func NewLexiconFileClient(tool, dir string) *LexiconFileClient {
	return &LexiconFileClient{tool: tool, dir: dir}
}

func (c *LexiconFileClient) Execute(ctx context.Context, callID, endpoint string, params map[string]string) (*models.RawResponseEffect, error) {
	word := params["word"]
	if word == "" {
		return nil, fmt.Errorf("lexicon %q: call %s has no word param", c.tool, callID)
	}

	// Endpoint is a bare file name; refuse anything that escapes the dir.
	name := filepath.Base(endpoint)
	path := filepath.Join(c.dir, name)

	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon %q: open %s: %w", c.tool, name, err)
	}
	defer f.Close()

	prefix := strings.ToLower(word)
	var matched []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()
		head, _, _ := strings.Cut(line, "\t")
		if strings.ToLower(head) == prefix {
			matched = append(matched, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("lexicon %q: scan %s: %w", c.tool, name, err)
	}

	statusCode := 200
	if len(matched) == 0 {
		statusCode = 404
	}

	return &models.RawResponseEffect{
		ResponseID:    models.NewResponseID(),
		Tool:          c.tool,
		CallID:        callID,
		Endpoint:      endpoint,
		StatusCode:    statusCode,
		ContentType:   "text/plain",
		Body:          []byte(strings.Join(matched, "\n")),
		ReceivedAt:    time.Now().UTC(),
		FetchDuration: time.Since(start).Milliseconds(),
	}, nil
}

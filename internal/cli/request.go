package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/tansive/instant-example/pkg/docinfo"
	"github.com/tansive/instant-example/pkg/instant"
	"github.com/tidwall/gjson"
)

// startFunc issues one session request on client.
type startFunc func(ctx context.Context, client *instant.Client, completion instant.CompletionHandler)

// retryDelay is the initial backoff between attempts.
var retryDelay = 500 * time.Millisecond

// requestDocument runs start until it succeeds, fails permanently or the
// configured attempts are used up. Only transport-level failures are retried.
func requestDocument(ctx context.Context, cfg *Config, start startFunc) (*docinfo.DocumentInfo, error) {
	client, err := instant.NewClient(cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	var doc *docinfo.DocumentInfo
	err = retry.Do(func() error {
		results := make(chan instant.Result, 1)
		start(ctx, client, func(r instant.Result) { results <- r })
		r := <-results
		if r.Err != nil {
			return r.Err
		}
		doc = r.Document
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(cfg.Attempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("session request failed, retrying")
		}))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// isTransient reports whether err is a failure worth issuing again: a
// transport error, as opposed to a rejected code or an unexpected response.
func isTransient(err error) bool {
	var failure *instant.Failure
	if !errors.As(err, &failure) {
		return false
	}
	return failure.Kind == instant.KindInternalError && failure.Underlying != nil
}

type documentOutput struct {
	Identifier string     `json:"identifier"`
	Token      string     `json:"token"`
	ServerURL  string     `json:"serverUrl,omitempty"`
	URL        string     `json:"url,omitempty"`
	Layer      string     `json:"layer,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

func newDocumentOutput(doc *docinfo.DocumentInfo) documentOutput {
	out := documentOutput{
		Identifier: doc.Identifier,
		Token:      doc.Token,
		ServerURL:  doc.ServerURL,
		URL:        doc.URL,
	}
	if layer, ok := doc.Layer(); ok {
		out.Layer = layer
	}
	if exp, ok := doc.ExpiresAt(); ok {
		out.ExpiresAt = &exp
	}
	return out
}

// printDocument writes doc as JSON or as labeled text. With field set, only
// that gjson path of the JSON form is written.
func printDocument(w io.Writer, doc *docinfo.DocumentInfo, field string) error {
	out := newDocumentOutput(doc)

	if field != "" {
		data, err := json.Marshal(out)
		if err != nil {
			return err
		}
		value := gjson.GetBytes(data, field)
		if !value.Exists() {
			return fmt.Errorf("field %q not present in output", field)
		}
		fmt.Fprintln(w, value.String())
		return nil
	}

	if jsonOutput {
		printJSON(w, out)
		return nil
	}

	okLabel.Fprintf(w, "[OK] ")
	fmt.Fprintln(w, "Session ready")
	fmt.Fprintf(w, "  Identifier: %s\n", out.Identifier)
	fmt.Fprintf(w, "  Token:      %s\n", out.Token)
	if out.ServerURL != "" {
		fmt.Fprintf(w, "  Server URL: %s\n", out.ServerURL)
	}
	if out.URL != "" {
		fmt.Fprintf(w, "  Share URL:  %s\n", out.URL)
	}
	if out.Layer != "" {
		fmt.Fprintf(w, "  Layer:      %s\n", out.Layer)
	}
	if out.ExpiresAt != nil {
		fmt.Fprintf(w, "  Expires:    %s\n", out.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

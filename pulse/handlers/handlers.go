// Package handlers provides the job handlers every tempo node registers.
// Definitions reference them by name; the payload is the handler's input.
//
//	noop     returns immediately
//	log      writes the payload to the node log
//	webhook  sends the job to an HTTP endpoint
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/internal/httpclient"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/job"
	"github.com/teranos/tempo/version"
)

// Output is what built-in handlers return and what gets recorded as the
// execution result.
type Output map[string]interface{}

const (
	Noop    = "noop"
	Log     = "log"
	Webhook = "webhook"
)

// Register adds the built-in handlers to reg. client is used by webhook;
// nil builds one that refuses private destinations.
func Register(reg *job.HandlerRegistry[Output], client *httpclient.Client, log *zap.SugaredLogger) {
	if client == nil {
		client = httpclient.New(30*time.Second, httpclient.Options{})
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	reg.Register(Noop, noop)
	reg.Register(Log, logHandler(logger.AddPulseSymbol(log.Named("handler"))))
	reg.Register(Webhook, webhookHandler(client))
}

func noop(_ context.Context, _ *job.Definition, scheduled time.Time) (Output, error) {
	return Output{"scheduled": scheduled.UTC().Format(time.RFC3339)}, nil
}

func logHandler(log *zap.SugaredLogger) job.HandlerFunc[Output] {
	return func(_ context.Context, def *job.Definition, scheduled time.Time) (Output, error) {
		payload, err := decode(def)
		if err != nil {
			return nil, err
		}
		log.Infow("Job ran",
			logger.FieldJobID, def.ID,
			logger.FieldOrgID, def.OrgID,
			logger.FieldScheduled, scheduled,
			"name", def.Name,
			"payload", payload,
		)
		return payload, nil
	}
}

// WebhookPayload configures a webhook job.
type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// WebhookRequest is the JSON body sent when the payload has no body of its own.
type WebhookRequest struct {
	JobID     string `json:"job_id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Scheduled string `json:"scheduled"`
}

func webhookHandler(client *httpclient.Client) job.HandlerFunc[Output] {
	return func(ctx context.Context, def *job.Definition, scheduled time.Time) (Output, error) {
		var p WebhookPayload
		if err := json.Unmarshal(def.Payload, &p); err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "webhook payload: %v", err)
		}
		if _, err := client.Validate(p.URL); err != nil {
			return nil, err
		}
		if p.Method == "" {
			p.Method = http.MethodPost
		}

		body := []byte(p.Body)
		if len(body) == 0 {
			var err error
			body, err = json.Marshal(WebhookRequest{
				JobID:     def.ID.String(),
				OrgID:     def.OrgID.String(),
				Name:      def.Name,
				Scheduled: scheduled.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode webhook request")
			}
		}

		req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to build webhook request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		req.Header.Set("X-Tempo-Scheduled", scheduled.UTC().Format(time.RFC3339))
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "webhook %s", p.URL)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, errors.WithDetailf(
				errors.Newf("webhook %s returned %d", p.URL, resp.StatusCode),
				"method: %s", p.Method)
		}
		return Output{"status": resp.StatusCode}, nil
	}
}

func decode(def *job.Definition) (Output, error) {
	out := Output{}
	if len(def.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(def.Payload, &out); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "payload of job %s: %v", def.ID, err)
	}
	return out, nil
}

// ABOUTME: Minimal SOAP dispatch for UPnP AV services
// ABOUTME: Single-line envelopes, entity escaping, retries, and UPnP fault extraction
package dlna

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	soapRetries     = 3
	soapRetryDelay  = 2 * time.Second
	soapCallTimeout = 10 * time.Second
)

// Arg is one ordered SOAP argument. Order matters to some devices, so
// arguments are a slice, not a map.
type Arg struct {
	Name  string
	Value string
}

// soapClient issues actions against one UPnP service endpoint.
// Requests to the same service are serialized; overlapping SOAP calls
// confuse enough renderers that we never allow them.
type soapClient struct {
	log         *slog.Logger
	http        *http.Client
	controlURL  string
	serviceType string

	mu sync.Mutex
}

func newSOAPClient(log *slog.Logger, controlURL, serviceType string) *soapClient {
	return &soapClient{
		log:         log,
		http:        &http.Client{Timeout: soapCallTimeout},
		controlURL:  controlURL,
		serviceType: serviceType,
	}
}

// escapeXML entity-escapes the five XML special characters.
func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// envelope builds the single-line SOAP request body.
func (c *soapClient) envelope(action string, args []Arg) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	b.WriteString(`<s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, c.serviceType)
	for _, a := range args {
		fmt.Fprintf(&b, `<%s>%s</%s>`, a.Name, escapeXML(a.Value), a.Name)
	}
	fmt.Fprintf(&b, `</u:%s>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.String()
}

var (
	faultCodeRe = regexp.MustCompile(`<errorCode>([^<]*)</errorCode>`)
	faultDescRe = regexp.MustCompile(`<errorDescription>([^<]*)</errorDescription>`)
)

// Call issues one action with the default retry budget.
func (c *soapClient) Call(ctx context.Context, action string, args ...Arg) (map[string]string, error) {
	return c.CallN(ctx, soapRetries, action, args...)
}

// CallN issues an action with an explicit retry budget. Volume uses 1:
// the UI will send another value momentarily anyway.
func (c *soapClient) CallN(ctx context.Context, retries int, action string, args ...Arg) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(soapRetryDelay):
			}
		}

		values, err := c.do(ctx, action, args)
		if err == nil {
			return values, nil
		}
		lastErr = err
		c.log.Debug("soap call failed", "action", action, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *soapClient) do(ctx context.Context, action string, args []Arg) (map[string]string, error) {
	body := c.envelope(action, args)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.controlURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dlna: build request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf(`"%s#%s"`, c.serviceType, action))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dlna: %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("dlna: %s: read response: %w", action, err)
	}
	text := string(raw)

	if code := faultCodeRe.FindStringSubmatch(text); code != nil {
		desc := ""
		if d := faultDescRe.FindStringSubmatch(text); d != nil {
			desc = d[1]
		}
		c.log.Warn("upnp fault", "action", action, "code", code[1], "description", desc)
		return nil, fmt.Errorf("dlna: %s: upnp error %s: %s", action, code[1], desc)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dlna: %s: status %d", action, resp.StatusCode)
	}

	return parseResponseValues(text), nil
}

var elementRe = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9]*)>([^<]*)</([A-Za-z][A-Za-z0-9]*)>`)

// parseResponseValues pulls simple element text out of the response
// body. UPnP AV responses are flat name/value lists, so a full XML
// walk buys nothing here.
func parseResponseValues(body string) map[string]string {
	out := make(map[string]string)
	for _, m := range elementRe.FindAllStringSubmatch(body, -1) {
		if m[1] == m[3] {
			out[m[1]] = unescapeXML(m[2])
		}
	}
	return out
}

func unescapeXML(s string) string {
	r := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
		"&amp;", "&",
	)
	return r.Replace(s)
}

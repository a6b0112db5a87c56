package pagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/eringen/pagegen/logfields"
	"github.com/eringen/pagegen/pipeline"
)

// HTTPInvalidator asks a downstream site to revalidate a path with
// POST {base}/api/revalidate?path=...&secret=....
type HTTPInvalidator struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewHTTPInvalidator creates an HTTPInvalidator. A nil client gets a 10s
// timeout.
func NewHTTPInvalidator(baseURL, secret string, client *http.Client) *HTTPInvalidator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPInvalidator{baseURL: strings.TrimRight(baseURL, "/"), secret: secret, client: client}
}

func (h *HTTPInvalidator) InvalidatePath(ctx context.Context, path string) error {
	q := url.Values{"path": {path}, "secret": {h.secret}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/revalidate?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revalidate %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// invalidationMessage is the NATS payload. Origin identifies the publishing
// instance so it can ignore its own messages.
type invalidationMessage struct {
	Path   string `json:"path"`
	Origin string `json:"origin"`
}

// NATSInvalidator publishes invalidated paths so every instance sharing the
// subject drops its cached copy.
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	origin  string
}

func NewNATSInvalidator(conn *nats.Conn, subject, origin string) *NATSInvalidator {
	return &NATSInvalidator{conn: conn, subject: subject, origin: origin}
}

func (n *NATSInvalidator) InvalidatePath(ctx context.Context, path string) error {
	data, err := json.Marshal(invalidationMessage{Path: path, Origin: n.origin})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	if _, ok := ctx.Deadline(); ok {
		return n.conn.FlushWithContext(ctx)
	}
	return n.conn.FlushTimeout(5 * time.Second)
}

// SubscribeInvalidations applies invalidations published by other instances
// to target.
func SubscribeInvalidations(conn *nats.Conn, subject, origin string, target pipeline.Invalidator, log *zap.Logger) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(subject, invalidationHandler(origin, target, log))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func invalidationHandler(origin string, target pipeline.Invalidator, log *zap.Logger) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var m invalidationMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil || m.Path == "" {
			log.Warn("ignoring malformed invalidation", logfields.Subject(msg.Subject), logfields.Error(err))
			return
		}
		if m.Origin == origin {
			return
		}
		if err := target.InvalidatePath(context.Background(), m.Path); err != nil {
			log.Warn("remote invalidation failed", logfields.Path(m.Path), logfields.Error(err))
			return
		}
		log.Debug("applied remote invalidation", logfields.Path(m.Path))
	}
}

// NewInvalidator builds the downstream fan-out described by cfg: the
// revalidation webhook when RevalidateURL is set, and NATS when NATSURL is
// set. conn is nil without NATS; the caller closes it.
func NewInvalidator(cfg SiteConfig, origin string, log *zap.Logger) (targets MultiInvalidator, conn *nats.Conn, err error) {
	if cfg.RevalidateURL != "" {
		if cfg.RevalidateSecret == "" {
			log.Warn("revalidation secret not set, skipping downstream revalidation",
				logfields.URL(cfg.RevalidateURL))
		} else {
			targets = append(targets, NewHTTPInvalidator(cfg.RevalidateURL, cfg.RevalidateSecret, nil))
		}
	}
	if cfg.NATSURL != "" {
		conn, err = nats.Connect(cfg.NATSURL,
			nats.Name("pagegen-"+origin),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		targets = append(targets, NewNATSInvalidator(conn, cfg.NATSSubject, origin))
	}
	return targets, conn, nil
}

// MultiInvalidator fans a path out to every target and joins their errors.
type MultiInvalidator []pipeline.Invalidator

func (m MultiInvalidator) InvalidatePath(ctx context.Context, path string) error {
	var errs []error
	for _, inv := range m {
		if err := inv.InvalidatePath(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

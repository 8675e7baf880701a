package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lumen-social/trustcore/internal/retry"
)

// Dispatcher posts signed notification payloads to webhook endpoints.
type Dispatcher struct {
	store  Store
	client *http.Client
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// DispatchToUser sends the notification to every active subscription the
// user holds for its category. Sends run async so the caller never blocks
// on a slow endpoint.
func (d *Dispatcher) DispatchToUser(ctx context.Context, n *Notification) error {
	subs, err := d.store.ListByUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range subs {
		if !sub.Active || !sub.subscribedTo(n.Category) {
			continue
		}
		go d.send(sub, n)
	}
	return nil
}

func (d *Dispatcher) send(sub *Subscription, n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(n)
	if err != nil {
		d.updateError(ctx, sub, "failed to marshal notification")
		return
	}

	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trustcore-Category", n.Category)
		req.Header.Set("X-Trustcore-Timestamp", fmt.Sprintf("%d", n.CreatedAt.Unix()))
		if sub.Secret != "" {
			req.Header.Set("X-Trustcore-Signature", sign(payload, sub.Secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		d.updateError(ctx, sub, err.Error())
		return
	}
	d.updateSuccess(ctx, sub)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	_ = d.store.UpdateSubscription(ctx, sub)
}

func (d *Dispatcher) updateError(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	_ = d.store.UpdateSubscription(ctx, sub)
}

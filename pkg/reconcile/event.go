package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type eventPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type dataPayload struct {
	Customer *customerPayload `json:"customer"`
	PaidAt   *string          `json:"paidAt"`
	Product  *productPayload  `json:"product"`
}

type customerPayload struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	DocNumber string `json:"docNumber"`
}

type productPayload struct {
	Name string `json:"name"`
}

var paidAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseEvent decodes a webhook body. The body may be a single event object or
// an array whose first element is the event; remaining elements are ignored.
// The data object is decoded only for handled event types, so any other type
// is acknowledged regardless of what its data carries.
func ParseEvent(body []byte) (*WebhookEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	var payload eventPayload
	if trimmed[0] == '[' {
		var batch []eventPayload
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("%w: empty event array", ErrMalformedPayload)
		}
		payload = batch[0]
	} else if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ev := &WebhookEvent{Type: payload.Event}
	raw := bytes.TrimSpace(payload.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ev, nil
	}
	if !IsHandledEvent(ev.Type) {
		ev.Data = &EventData{}
		return ev, nil
	}

	var dp dataPayload
	if err := json.Unmarshal(raw, &dp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	data := &EventData{}
	if c := dp.Customer; c != nil {
		data.Customer = CustomerInfo{
			Email: strings.TrimSpace(c.Email),
			Name:  strings.TrimSpace(c.Name),
			Phone: strings.TrimSpace(c.Phone),
			TaxID: strings.TrimSpace(c.DocNumber),
		}
	}
	if p := dp.Product; p != nil {
		data.Product = ProductRef{Name: p.Name}
	}
	if dp.PaidAt != nil && strings.TrimSpace(*dp.PaidAt) != "" {
		paidAt, err := parsePaidAt(*dp.PaidAt)
		if err != nil {
			return nil, err
		}
		data.PaidAt = &paidAt
	}
	ev.Data = data
	return ev, nil
}

// IsHandledEvent reports whether eventType changes account state.
func IsHandledEvent(eventType string) bool {
	return eventType == EventSubscriptionCreated || eventType == EventSubscriptionRenewed
}

func parsePaidAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range paidAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid paidAt %q", ErrMalformedPayload, raw)
}

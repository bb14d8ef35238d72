// internal/services/webhook_events.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventCheckoutAsyncPaymentPaid = "checkout.session.async_payment_succeeded"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaid              = "invoice.paid"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["id", "type", "created", "data"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "created": {"type": "integer", "minimum": 0},
    "data": {
      "type": "object",
      "required": ["object"],
      "properties": {"object": {"type": "object"}}
    }
  }
}`

const metadataSchema = `{"type": ["object", "null"], "additionalProperties": {"type": "string"}}`

var objectSchemas = map[string]string{
	EventCheckoutSessionCompleted: checkoutSessionSchema,
	EventCheckoutAsyncPaymentPaid: checkoutSessionSchema,
	EventSubscriptionUpdated:      subscriptionObjectSchema,
	EventSubscriptionDeleted:      subscriptionObjectSchema,
	EventInvoicePaid:              invoiceObjectSchema,
	EventInvoicePaymentFailed:     invoiceObjectSchema,
}

const checkoutSessionSchema = `{
  "type": "object",
  "required": ["id", "mode"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "mode": {"type": "string"},
    "subscription": {"type": ["string", "null"]},
    "customer": {"type": ["string", "null"]},
    "client_reference_id": {"type": ["string", "null"]},
    "payment_intent": {"type": ["string", "null"]},
    "payment_status": {"type": ["string", "null"]},
    "metadata": ` + metadataSchema + `
  }
}`

const subscriptionObjectSchema = `{
  "type": "object",
  "required": ["id", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "status": {"enum": ["active", "trialing", "past_due", "canceled", "unpaid", "incomplete", "incomplete_expired", "paused"]},
    "customer": {"type": ["string", "null"]},
    "current_period_end": {"type": ["integer", "null"]},
    "created": {"type": "integer"},
    "metadata": ` + metadataSchema + `,
    "items": {
      "type": "object",
      "properties": {"data": {"type": "array"}}
    }
  }
}`

const invoiceObjectSchema = `{
  "type": "object",
  "required": ["id", "subscription"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "subscription": {"type": "string", "minLength": 1},
    "customer": {"type": ["string", "null"]}
  }
}`

var (
	compiledEnvelope *jsonschema.Schema
	compiledObjects  = map[string]*jsonschema.Schema{}
)

func init() {
	compiledEnvelope = mustCompileSchema("envelope", envelopeSchema)
	for eventType, schema := range objectSchemas {
		compiledObjects[eventType] = mustCompileSchema(eventType, schema)
	}
}

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://schemas.downpricer.local/webhooks/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("webhook schema %s load failed: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("webhook schema %s compile failed: %v", name, err))
	}
	return compiled
}

// WebhookEvent is a schema-checked processor event. Object holds the raw
// data.object for the family decoder.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// Handled reports whether the reconciliation engine acts on this type.
func (e *WebhookEvent) Handled() bool {
	_, ok := compiledObjects[e.Type]
	return ok
}

// ParseWebhookEvent validates the envelope and, for handled types, the
// object shape. Any mismatch is a ValidationError.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Field: "payload", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := compiledEnvelope.Validate(doc); err != nil {
		return nil, &ValidationError{Field: "envelope", Message: err.Error()}
	}

	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &ValidationError{Field: "envelope", Message: err.Error()}
	}

	event := &WebhookEvent{
		ID:      envelope.ID,
		Type:    envelope.Type,
		Created: time.Unix(envelope.Created, 0).UTC(),
		Object:  envelope.Data.Object,
	}

	if schema, ok := compiledObjects[event.Type]; ok {
		object := doc.(map[string]interface{})["data"].(map[string]interface{})["object"]
		if err := schema.Validate(object); err != nil {
			return nil, &ValidationError{Field: "data.object", Message: err.Error()}
		}
	}
	return event, nil
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Subscription      string            `json:"subscription"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentIntent     string            `json:"payment_intent"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// settled reports whether the session's funds have been captured.
func (o *checkoutSessionObject) settled() bool {
	return o.PaymentStatus == "paid" || o.PaymentStatus == "no_payment_required"
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Customer         string            `json:"customer"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Created          int64             `json:"created"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
				Currency   string `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// external converts the payload into the same shape the read-back returns.
func (o *subscriptionObject) external() *ExternalSubscription {
	ext := &ExternalSubscription{
		ID:         o.ID,
		Status:     o.Status,
		CustomerID: o.Customer,
		Currency:   o.Currency,
		Metadata:   o.Metadata,
	}
	if o.Created > 0 {
		ext.Created = time.Unix(o.Created, 0).UTC()
	}
	if o.CurrentPeriodEnd > 0 {
		end := time.Unix(o.CurrentPeriodEnd, 0).UTC()
		ext.CurrentPeriodEnd = &end
	}
	if len(o.Items.Data) > 0 {
		price := o.Items.Data[0].Price
		ext.PriceID = price.ID
		ext.AmountCents = price.UnitAmount
		if ext.Currency == "" {
			ext.Currency = price.Currency
		}
	}
	return ext
}

type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
}

func decodeObject(event *WebhookEvent, dst interface{}) error {
	if err := json.Unmarshal(event.Object, dst); err != nil {
		return &ValidationError{Field: "data.object", Message: err.Error()}
	}
	return nil
}

// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/models"
)

type NotificationEvent string

const (
	EventAdminNewUser               NotificationEvent = "admin_new_user"
	EventAdminNewClientRequest      NotificationEvent = "admin_new_client_request"
	EventAdminNewSale               NotificationEvent = "admin_new_sale"
	EventAdminPaymentProofSubmitted NotificationEvent = "admin_payment_proof_submitted"
	EventAdminShipmentPending       NotificationEvent = "admin_shipment_pending"
	EventAdminNewSubscription       NotificationEvent = "admin_new_subscription"

	EventUserRequestReceived       NotificationEvent = "user_request_received"
	EventUserRequestStatusChanged  NotificationEvent = "user_request_status_changed"
	EventUserDepositRequested      NotificationEvent = "user_deposit_requested"
	EventUserPaymentRequired       NotificationEvent = "user_payment_required"
	EventUserPaymentValidated      NotificationEvent = "user_payment_validated"
	EventUserPaymentRejected       NotificationEvent = "user_payment_rejected"
	EventUserSaleRejected          NotificationEvent = "user_sale_rejected"
	EventUserShipped               NotificationEvent = "user_shipped"
	EventUserSubscriptionActivated NotificationEvent = "user_subscription_activated"
)

// Notifier is the fire-and-forget notification port used by the lifecycle
// controllers. Implementations never report delivery failures to the caller.
type Notifier interface {
	NotifyAdmin(ctx context.Context, event NotificationEvent, payload map[string]string)
	NotifyUser(ctx context.Context, event NotificationEvent, recipient string, payload map[string]string)
}

// NotificationJob is one delivery to one target. An empty Recipient means the
// administrator mailbox.
type NotificationJob struct {
	Event     NotificationEvent `json:"event"`
	Recipient string            `json:"recipient,omitempty"`
	Payload   map[string]string `json:"payload"`
}

func (j NotificationJob) ForAdmin() bool {
	return j.Recipient == ""
}

//go:embed templates/notifications.yaml
var notificationCatalogYAML []byte

type notificationTemplate struct {
	Audience string `yaml:"audience"`
	Priority string `yaml:"priority"`
	Subject  string `yaml:"subject"`
	Body     string `yaml:"body"`

	subject *texttemplate.Template
	body    *template.Template
}

type notificationCatalog struct {
	Layout string                                      `yaml:"layout"`
	Events map[NotificationEvent]*notificationTemplate `yaml:"events"`

	layout *template.Template
}

func loadNotificationCatalog(raw []byte) (*notificationCatalog, error) {
	var catalog notificationCatalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse notification catalog: %w", err)
	}

	var err error
	if catalog.layout, err = template.New("layout").Parse(catalog.Layout); err != nil {
		return nil, fmt.Errorf("failed to parse notification layout: %w", err)
	}
	for event, tmpl := range catalog.Events {
		// Subjects are plain text headers, not HTML.
		if tmpl.subject, err = texttemplate.New(string(event) + ".subject").Parse(tmpl.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject for %s: %w", event, err)
		}
		if tmpl.body, err = template.New(string(event) + ".body").Parse(tmpl.Body); err != nil {
			return nil, fmt.Errorf("failed to parse body for %s: %w", event, err)
		}
	}
	return &catalog, nil
}

// NotificationService renders catalog templates and delivers them by mail.
// Admin events also leave an AdminNotification row for the back-office inbox.
type NotificationService struct {
	db       *gorm.DB
	config   *config.Config
	settings *SettingsService
	catalog  *notificationCatalog
	sendMail func(to, subject, body string) error
	wg       sync.WaitGroup
}

func NewNotificationService(db *gorm.DB, cfg *config.Config, settings *SettingsService) (*NotificationService, error) {
	catalog, err := loadNotificationCatalog(notificationCatalogYAML)
	if err != nil {
		return nil, err
	}
	s := &NotificationService{
		db:       db,
		config:   cfg,
		settings: settings,
		catalog:  catalog,
	}
	s.sendMail = s.sendEmail
	return s, nil
}

// NotifyAdmin queues an admin notification on a background goroutine.
func (s *NotificationService) NotifyAdmin(ctx context.Context, event NotificationEvent, payload map[string]string) {
	s.dispatch(ctx, NotificationJob{Event: event, Payload: payload})
}

func (s *NotificationService) NotifyUser(ctx context.Context, event NotificationEvent, recipient string, payload map[string]string) {
	if recipient == "" {
		logrus.WithField("event", event).Warn("Skipping user notification without recipient")
		return
	}
	s.dispatch(ctx, NotificationJob{Event: event, Recipient: recipient, Payload: payload})
}

func (s *NotificationService) dispatch(ctx context.Context, job NotificationJob) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Deliver(ctx, job); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"event":     job.Event,
				"recipient": job.Recipient,
			}).Error("Failed to deliver notification")
		}
	}()
}

// Wait blocks until every background delivery started so far has finished.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// Deliver renders and sends one job synchronously. Unknown events are logged
// and dropped so a queue consumer does not retry them forever.
func (s *NotificationService) Deliver(ctx context.Context, job NotificationJob) error {
	tmpl, ok := s.catalog.Events[job.Event]
	if !ok {
		logrus.WithField("event", job.Event).Error("Unknown notification event")
		return nil
	}

	data := s.templateData(ctx, job.Payload)
	subject, err := render(tmpl.subject, data)
	if err != nil {
		return fmt.Errorf("failed to render subject for %s: %w", job.Event, err)
	}
	subject = singleLine(subject)
	content, err := render(tmpl.body, data)
	if err != nil {
		return fmt.Errorf("failed to render body for %s: %w", job.Event, err)
	}

	if job.ForAdmin() {
		if err := s.recordAdminNotification(ctx, job, tmpl, subject, content); err != nil {
			return err
		}
	}

	if !s.settings.Bool(ctx, SettingEmailNotifEnabled, true) {
		logrus.WithField("event", job.Event).Debug("E-mail notifications disabled")
		return nil
	}

	to := job.Recipient
	if job.ForAdmin() {
		to = s.settings.String(ctx, SettingAdminNotifEmail, s.config.Notify.AdminEmail)
		if to == "" {
			return nil
		}
	}

	data["content"] = template.HTML(content)
	body, err := render(s.catalog.layout, data)
	if err != nil {
		return fmt.Errorf("failed to render layout for %s: %w", job.Event, err)
	}
	return s.sendMail(to, subject, body)
}

func (s *NotificationService) templateData(ctx context.Context, payload map[string]string) map[string]interface{} {
	data := map[string]interface{}{
		"brand_name":    s.settings.String(ctx, SettingBrandName, s.config.Notify.BrandName),
		"support_email": s.settings.SupportEmail(ctx),
		"base_url":      s.config.Frontend.BaseURL,
	}
	for k, v := range payload {
		data[k] = v
	}
	return data
}

type executor interface {
	Execute(w io.Writer, data interface{}) error
}

func render(tmpl executor, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *NotificationService) recordAdminNotification(ctx context.Context, job NotificationJob, tmpl *notificationTemplate, title, message string) error {
	priority := tmpl.Priority
	if priority == "" {
		priority = "medium"
	}
	resourceType, resourceID := relatedResource(job.Payload)
	notification := &models.AdminNotification{
		Type:                string(job.Event),
		Title:               title,
		Message:             message,
		Priority:            priority,
		Status:              "unread",
		RelatedResourceType: resourceType,
		RelatedResourceID:   resourceID,
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create admin notification: %w", err)
	}
	return nil
}

func relatedResource(payload map[string]string) (string, string) {
	for _, candidate := range []struct{ key, resource string }{
		{"request_id", "purchase_request"},
		{"sale_id", "consignment_sale"},
		{"subscription_id", "subscription"},
		{"user_id", "user"},
	} {
		if id := payload[candidate.key]; id != "" {
			return candidate.resource, id
		}
	}
	return "", ""
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		logrus.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).Info("SMTP not configured, e-mail not sent")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)
	msg := buildMessage(s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body)

	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	if err := smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// buildMessage assembles an HTML mail. Every header value is folded onto one
// line and non-ASCII text is RFC 2047 encoded.
func buildMessage(fromName, fromEmail, to, subject, body string) []byte {
	from := mail.Address{Name: singleLine(fromName), Address: singleLine(fromEmail)}
	rcpt := mail.Address{Address: singleLine(to)}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", rcpt.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", singleLine(subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// singleLine collapses every run of whitespace, line breaks included, into a
// single space.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/models"
)

type NotificationService struct {
	email    config.EmailConfig
	frontend config.FrontendConfig
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(email config.EmailConfig, frontend config.FrontendConfig) *NotificationService {
	return &NotificationService{
		email:    email,
		frontend: frontend,
		send:     smtp.SendMail,
	}
}

func (s *NotificationService) SendOrderConfirmation(order *models.Order) error {
	data := map[string]interface{}{
		"CustomerName":    order.CustomerName,
		"OrderID":         order.ID,
		"Products":        order.Products,
		"Total":           fmt.Sprintf("%.2f", order.Total),
		"Currency":        order.Currency,
		"DeliveryDate":    order.DeliveryDate.Format("2 January 2006"),
		"Address":         order.ShippingAddress,
		"OrderDetailsURL": fmt.Sprintf("%s/orders/%s", s.frontend.BaseURL, order.ID),
	}

	tmpl := s.getEmailTemplate("order_confirmation")
	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(order.CustomerEmail, tmpl.Subject+" - "+order.ID, body)
}

func (s *NotificationService) SendShippingUpdate(order *models.Order, artistID string) error {
	var items []models.LineItem
	for _, li := range order.Products {
		if li.ArtistID == artistID {
			items = append(items, li)
		}
	}

	data := map[string]interface{}{
		"CustomerName":    order.CustomerName,
		"OrderID":         order.ID,
		"Products":        items,
		"OrderDetailsURL": fmt.Sprintf("%s/orders/%s", s.frontend.BaseURL, order.ID),
	}

	tmpl := s.getEmailTemplate("order_shipped")
	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(order.CustomerEmail, tmpl.Subject+" - "+order.ID, body)
}

// Helper methods
func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.email.SMTPHost == "" {
		logrus.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).Info("SMTP not configured, email not sent")
		return nil
	}

	auth := smtp.PlainAuth("", s.email.SMTPUsername, s.email.SMTPPassword, s.email.SMTPHost)

	msg := []byte(fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.email.FromName, s.email.FromEmail, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.email.SMTPHost, s.email.SMTPPort)
	if err := s.send(addr, auth, s.email.FromEmail, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"order_confirmation": {
			Subject: "Order Confirmation",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Thank you for your order{{if .CustomerName}}, {{.CustomerName}}{{end}}!</h2>
	<p>Order number: <strong>{{.OrderID}}</strong></p>
	<table>
	{{range .Products}}
		<tr>
			<td>{{.Title}} ({{.Size}}{{if eq .FrameOption "framed"}}, framed{{if .FrameColor}} {{.FrameColor}}{{end}}{{end}})</td>
			<td>x{{.Quantity}}</td>
			<td>{{range .Units}}#{{.Serial}} {{end}}</td>
		</tr>
	{{end}}
	</table>
	<p>Total: {{.Total}} {{.Currency}}</p>
	<p>Estimated delivery: {{.DeliveryDate}}</p>
	<p>Shipping to: {{.Address.Line1}}, {{.Address.PostalCode}} {{.Address.City}}, {{.Address.Country}}</p>
	<a href="{{.OrderDetailsURL}}">View your order</a>
</body>
</html>`,
		},
		"order_shipped": {
			Subject: "Your prints are on their way",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Good news{{if .CustomerName}}, {{.CustomerName}}{{end}}!</h2>
	<p>Part of order <strong>{{.OrderID}}</strong> has shipped:</p>
	<ul>
	{{range .Products}}
		<li>{{.Title}} ({{.Size}}) {{range .Units}}#{{.Serial}} {{end}}</li>
	{{end}}
	</ul>
	<a href="{{.OrderDetailsURL}}">Track your order</a>
</body>
</html>`,
		},
	}

	if template, exists := templates[templateType]; exists {
		return template
	}

	return EmailTemplate{
		Subject: "Notification",
		Body:    "<p>{{.OrderID}}</p>",
	}
}

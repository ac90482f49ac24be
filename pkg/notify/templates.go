package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Your account is ready</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden;">
<tr><td style="padding: 32px 40px; text-align: left;">
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">Welcome, {{.Name}}</h1>
<p style="margin: 0 0 16px; color: #444; font-size: 15px; line-height: 1.5;">
Your subscription is active until {{.ExpiresAt}}. Use the details below to sign in.
</p>
<p style="margin: 0 0 8px; color: #444; font-size: 15px;"><strong>Email:</strong> {{.Email}}</p>
<p style="margin: 0 0 24px; color: #444; font-size: 15px;"><strong>Password:</strong> <code>{{.Credential}}</code></p>
{{if .MustRotate}}<p style="margin: 0 0 24px; color: #b45309; font-size: 14px;">You will be asked to choose a new password the first time you sign in.</p>{{end}}
{{if .LoginURL}}<a href="{{.LoginURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px;">Sign In</a>{{end}}
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// WelcomeData holds template data for the welcome email.
type WelcomeData struct {
	Name       string
	Email      string
	Credential string
	MustRotate bool
	LoginURL   string
	ExpiresAt  string
}

// welcomeDateLayout renders expirations as day/month/year.
const welcomeDateLayout = "02/01/2006"

// FormatExpiration formats an expiration for the welcome email.
func FormatExpiration(t time.Time) string {
	return t.UTC().Format(welcomeDateLayout)
}

// RenderWelcomeEmail renders the welcome HTML and plain-text bodies.
func RenderWelcomeEmail(data WelcomeData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render welcome template: %w", err)
	}

	var tb strings.Builder
	fmt.Fprintf(&tb, "Welcome, %s\n\n", data.Name)
	fmt.Fprintf(&tb, "Your subscription is active until %s.\n\n", data.ExpiresAt)
	fmt.Fprintf(&tb, "Email: %s\nPassword: %s\n", data.Email, data.Credential)
	if data.MustRotate {
		tb.WriteString("\nYou will be asked to choose a new password the first time you sign in.\n")
	}
	if data.LoginURL != "" {
		fmt.Fprintf(&tb, "\nSign in: %s\n", data.LoginURL)
	}

	return buf.String(), tb.String(), nil
}

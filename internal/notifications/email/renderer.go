package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"
	"time"

	"coachkit/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

const (
	defaultProductName = "CoachKit"
	expiryLayout       = "Mon, Jan 2 2006 at 15:04 MST"
)

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

type templateData struct {
	Subject     string
	ProductName string
	Name        string
	RecoveryURL string
	ExpiresAt   string
}

// Renderer turns recovery messages into HTML and plaintext bodies using the
// embedded templates. The HTML body is the recovery content wrapped in the
// shared base layout.
type Renderer struct {
	html        *template.Template
	text        *texttemplate.Template
	productName string
	location    *time.Location
	logger      *slog.Logger
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	ProductName string
	// Location is used to format the link expiry; defaults to UTC.
	Location *time.Location
	Logger   *slog.Logger
}

// NewRenderer parses the embedded templates and returns a Renderer.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	r := &Renderer{
		productName: cfg.ProductName,
		location:    cfg.Location,
		logger:      cfg.Logger,
	}
	if r.productName == "" {
		r.productName = defaultProductName
	}
	if r.location == nil {
		r.location = time.UTC
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}
	recoveryHTML, err := templateFS.ReadFile("templates/recovery.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read recovery.html: %w", err)
	}
	r.html, err = template.New("base").Parse(string(baseHTML))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
	}
	if _, err := r.html.Parse(string(recoveryHTML)); err != nil {
		return nil, fmt.Errorf("renderer: failed to parse recovery.html: %w", err)
	}

	recoveryText, err := templateFS.ReadFile("templates/recovery.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read recovery.txt: %w", err)
	}
	r.text, err = texttemplate.New("recovery").Parse(string(recoveryText))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse recovery.txt: %w", err)
	}

	return r, nil
}

// RenderRecovery renders the account recovery email for msg.
func (r *Renderer) RenderRecovery(msg types.RecoveryEmailMessage) (*RenderedEmail, error) {
	if msg.RecoveryURL == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "recovery_url is required", nil)
	}

	data := templateData{
		Subject:     fmt.Sprintf("Finish setting up your %s account", r.productName),
		ProductName: r.productName,
		Name:        greetingName(msg.Name),
		RecoveryURL: msg.RecoveryURL,
		ExpiresAt:   msg.ExpiresAt.In(r.location).Format(expiryLayout),
	}

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML: %w", err)
	}
	var txtBuf bytes.Buffer
	if err := r.text.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text: %w", err)
	}

	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

// greetingName uses the first word of the billing name.
func greetingName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

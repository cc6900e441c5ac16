package email

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/testutil"
)

func TestEmbeddedTemplates(t *testing.T) {
	ts, err := NewTemplateService(testutil.NewLogger())
	require.NoError(t, err)
	require.True(t, ts.HasTemplate("notification"))

	out, err := ts.Render("notification", TemplateContext{
		"title":   "Geada prevista",
		"message": "Temperatura de 2°C na Fazenda Boa Vista",
		"level":   "high",
	}, "base")
	require.NoError(t, err)

	assert.Contains(t, out.HTML, "<html")
	assert.Contains(t, out.HTML, "<h2 class=\"high\">Geada prevista</h2>")
	assert.Equal(t, "Geada prevista\n\nTemperatura de 2°C na Fazenda Boa Vista", out.Text)
}

func TestRenderEscapesContext(t *testing.T) {
	ts, err := NewTemplateService(testutil.NewLogger())
	require.NoError(t, err)

	out, err := ts.Render("notification", TemplateContext{"title": "<script>"}, "")
	require.NoError(t, err)
	assert.NotContains(t, out.HTML, "<script>")
	assert.NotContains(t, out.HTML, "<html")
}

func TestRenderUnknownTemplate(t *testing.T) {
	ts, err := NewTemplateServiceFS(fstest.MapFS{
		"hello.hbs": {Data: []byte("Olá {{name}}")},
	}, testutil.NewLogger())
	require.NoError(t, err)

	out, err := ts.Render("hello", TemplateContext{"name": "Ana"}, "missing")
	require.NoError(t, err)
	assert.Equal(t, "Olá Ana", out.HTML)

	_, err = ts.Render("welcome", nil, "")
	assert.Error(t, err)
}

func TestRenderParseError(t *testing.T) {
	_, err := NewTemplateServiceFS(fstest.MapFS{
		"broken.hbs": {Data: []byte("{{#if}")},
	}, testutil.NewLogger())
	assert.Error(t, err)
}

func TestNewSender(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		mailgun bool
	}{
		{name: "disabled", cfg: Config{MailgunDomain: "mg.lavra.ai", MailgunAPIKey: "key"}},
		{name: "not configured", cfg: Config{Enabled: true}},
		{name: "mailgun", cfg: Config{Enabled: true, MailgunDomain: "mg.lavra.ai", MailgunAPIKey: "key"}, mailgun: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSender(testutil.NewLogger(), &tt.cfg)
			_, isMailgun := s.(*MailgunSender)
			assert.Equal(t, tt.mailgun, isMailgun)
		})
	}
}

func TestNoOpSender(t *testing.T) {
	s := &noOpSender{log: testutil.NewLogger()}

	res, err := s.Send(context.Background(), SendOptions{To: "ana@fazenda.com.br", Subject: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "noop-ana@fazenda.com.br", res.MessageID)

	_, err = s.Send(context.Background(), SendOptions{Subject: "oi"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestMailgunSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.Equal(t, "Alerta de preço", r.FormValue("subject"))
		assert.Equal(t, "Ana <ana@fazenda.com.br>", r.FormValue("to"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"<msg-1@mg.lavra.ai>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	s := NewMailgunSender(&Config{
		Enabled:       true,
		MailgunDomain: "mg.lavra.ai",
		MailgunAPIKey: "key",
		FromEmail:     "noreply@lavra.ai",
		FromName:      "Lavra",
	}, testutil.NewLogger())
	require.NotNil(t, s)
	s.SetAPIBase(srv.URL)

	res, err := s.Send(context.Background(), SendOptions{
		To:      "ana@fazenda.com.br",
		ToName:  "Ana",
		Subject: "Alerta de preço",
		Text:    "CAFE subiu 12%",
	})
	require.NoError(t, err)
	assert.Equal(t, "<msg-1@mg.lavra.ai>", res.MessageID)
}

func TestMailgunSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewMailgunSender(&Config{MailgunDomain: "mg.lavra.ai", MailgunAPIKey: "key", FromEmail: "noreply@lavra.ai", FromName: "Lavra"}, testutil.NewLogger())
	s.SetAPIBase(srv.URL)

	_, err := s.Send(context.Background(), SendOptions{To: "ana@fazenda.com.br", Subject: "x", Text: "y"})
	assert.Error(t, err)

	_, err = s.Send(context.Background(), SendOptions{Subject: "x"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestNewMailgunSenderUnconfigured(t *testing.T) {
	assert.Nil(t, NewMailgunSender(&Config{}, testutil.NewLogger()))
}

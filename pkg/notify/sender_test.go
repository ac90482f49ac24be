package notify

import (
	"context"
	"encoding/json"
	"mime"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSender_Send(t *testing.T) {
	var gotTo, gotSubject string
	sender := NewLogSender(func(to, subject string) {
		gotTo = to
		gotSubject = subject
	})

	err := sender.Send(context.Background(), Message{
		To:      "test@example.com",
		Subject: "Test Subject",
		Text:    "Password: secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", gotTo)
	assert.Equal(t, "Test Subject", gotSubject)

	assert.NoError(t, NewLogSender(nil).Send(context.Background(), Message{}))
}

func newTestPostmark(url string) *PostmarkSender {
	p := NewPostmarkSender("test-token")
	p.endpoint = url
	return p
}

func TestPostmarkSender_Send(t *testing.T) {
	var got postmarkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-token", r.Header.Get("X-Postmark-Server-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	err := newTestPostmark(srv.URL).Send(context.Background(), Message{
		From:    "no-reply@example.com",
		To:      "maria@example.com",
		Subject: "Hello",
		HTML:    "<p>Hi</p>",
		Text:    "Hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", got.To)
	assert.Equal(t, "<p>Hi</p>", got.HtmlBody)
	assert.Equal(t, "Hi", got.TextBody)
}

func TestPostmarkSender_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	err := newTestPostmark(srv.URL).Send(context.Background(), Message{To: "x@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 422")
	assert.Contains(t, err.Error(), "code=300")
}

func TestPostmarkSender_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := newTestPostmark(srv.URL).Send(ctx, Message{To: "x@example.com"})
	assert.Error(t, err)
}

func TestNewSMTPSender(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	assert.Error(t, err)

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, s.config.Port)
}

func TestSMTPSender_DialFailure(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = s.Send(ctx, Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp dial")
}

func TestBuildMIME(t *testing.T) {
	data, err := buildMIME(Message{
		From:    "no-reply@example.com",
		To:      "maria@example.com",
		Subject: "Welcome",
		HTML:    "<p>Hi</p>",
		Text:    "Hi",
	})
	require.NoError(t, err)

	msg := string(data)
	assert.True(t, strings.HasPrefix(msg, "From: no-reply@example.com\r\nTo: maria@example.com\r\nSubject: Welcome\r\n"))
	assert.Contains(t, msg, "MIME-Version: 1.0")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "text/plain; charset=UTF-8")
	assert.Contains(t, msg, "text/html; charset=UTF-8")
	assert.Contains(t, msg, "<p>Hi</p>")
}

func TestBuildMIME_EncodesNonASCII(t *testing.T) {
	data, err := buildMIME(Message{
		From:    "no-reply@example.com",
		To:      "joao@example.com",
		Subject: "Olá João, sua conta está pronta",
		HTML:    "<p>Olá João</p>",
		Text:    "Olá João",
	})
	require.NoError(t, err)

	msg := string(data)
	assert.Contains(t, msg, "Subject: =?UTF-8?q?Ol=C3=A1_Jo=C3=A3o")
	assert.Contains(t, msg, "Content-Transfer-Encoding: quoted-printable")
	assert.Contains(t, msg, "Ol=C3=A1 Jo=C3=A3o")
	for i := 0; i < len(msg); i++ {
		require.Less(t, msg[i], byte(0x80), "raw 8-bit byte at offset %d", i)
	}

	subject, err := new(mime.WordDecoder).DecodeHeader(headerValue(msg, "Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Olá João, sua conta está pronta", subject)
}

func headerValue(msg, name string) string {
	for _, line := range strings.Split(msg, "\r\n") {
		if v, ok := strings.CutPrefix(line, name+": "); ok {
			return v
		}
	}
	return ""
}

func TestBuildMIME_RejectsHeaderInjection(t *testing.T) {
	_, err := buildMIME(Message{To: "maria@example.com\r\nBcc: evil@example.com"})
	assert.Error(t, err)
}

// Package mailer renders and sends alert emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"text/template"
	"time"

	"soundmeter/internal/model"
	"soundmeter/internal/stats"
)

// Alert is everything an alert email shows.
type Alert struct {
	Kind                 model.AlertKind
	CurrentDb            float64
	AverageDb            *float64
	Timestamp            time.Time
	SlotID               int
	SlotName             string
	InstantThresholdDb   float64
	AverageThresholdDb   float64
	AverageWindowMinutes float64
	Stats                *stats.PeriodStatistics
}

type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

func Subject(a Alert) string {
	if a.Kind == model.AlertAverage && a.AverageDb != nil {
		return fmt.Sprintf("Sound Alert: Average Threshold Exceeded (%.1f dB avg) - %s", *a.AverageDb, a.SlotName)
	}
	return fmt.Sprintf("Sound Alert: Instant Threshold Exceeded (%.1f dB) - %s", a.CurrentDb, a.SlotName)
}

var funcs = map[string]any{
	"db": func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
	"deref": func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	},
	"title": func(k model.AlertKind) string {
		s := string(k)
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
	"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	"num":   func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}

var textTmpl = template.Must(template.New("text").Funcs(funcs).Parse(`Sound Level Alert

Alert Type: {{title .Kind}}
Time: {{stamp .Timestamp}}
Time Slot: {{.SlotName}}

Current Reading: {{db .CurrentDb}} dB
Instant Threshold: {{db .InstantThresholdDb}} dB
Average Threshold: {{db .AverageThresholdDb}} dB
{{- if .AverageDb}}
Average over {{num .AverageWindowMinutes}} minutes: {{db (deref .AverageDb)}} dB
{{- end}}
{{with .Stats}}
Period Statistics ({{$.SlotName}}):
Peak: {{db .PeakDb}} dB at {{.PeakTimestamp}}
Average: {{db .AverageDb}} dB
Green: {{db .GreenPercent}}%
Yellow: {{db .YellowPercent}}%
Red: {{db .RedPercent}}%

Recent Readings:
{{range .RecentReadings}}  {{.Timestamp}} - {{db .Decibels}} dB ({{.Zone}})
{{end}}{{end}}
--
Automatic alert from Sound Meter System
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
.header { color: white; padding: 20px; border-radius: 5px 5px 0 0; }
.instant { background-color: #dc2626; }
.average { background-color: #ea580c; }
.content { background-color: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; border-top: none; }
.metric { background-color: white; padding: 15px; margin: 10px 0; border-radius: 5px; }
.metric-value { font-size: 24px; font-weight: bold; }
.zone-green { color: #10b981; }
.zone-yellow { color: #f59e0b; }
.zone-red { color: #dc2626; }
.footer { text-align: center; margin-top: 20px; color: #6b7280; font-size: 14px; }
</style>
</head>
<body>
<div class="header {{.Kind}}">
<h1>{{if eq (print .Kind) "average"}}Average{{else}}Instant{{end}} Threshold Exceeded</h1>
</div>
<div class="content">
<p><strong>Time:</strong> {{stamp .Timestamp}}</p>
<p><strong>Time Slot:</strong> {{.SlotName}}</p>
<div class="metric"><div>Current Sound Level</div><div class="metric-value">{{db .CurrentDb}} dB</div></div>
{{- if .AverageDb}}
<div class="metric"><div>Average over {{num .AverageWindowMinutes}} minutes</div><div class="metric-value">{{db (deref .AverageDb)}} dB</div></div>
{{- end}}
<div class="metric"><div>Configured Thresholds</div><div>Instant: {{db .InstantThresholdDb}} dB</div><div>Average: {{db .AverageThresholdDb}} dB</div></div>
{{- with .Stats}}
<h3>Period Statistics ({{$.SlotName}})</h3>
<p><strong>Peak:</strong> {{db .PeakDb}} dB <small>{{.PeakTimestamp}}</small></p>
<p><strong>Average:</strong> {{db .AverageDb}} dB</p>
<p><span class="zone-green">Green:</span> {{db .GreenPercent}}% <span class="zone-yellow">Yellow:</span> {{db .YellowPercent}}% <span class="zone-red">Red:</span> {{db .RedPercent}}%</p>
<h3>Recent Readings</h3>
{{- range .RecentReadings}}
<div><span>{{.Timestamp}}</span> <span class="zone-{{.Zone}}">{{db .Decibels}} dB</span></div>
{{- end}}
{{- end}}
</div>
<div class="footer">Automatic alert from Sound Meter System</div>
</body>
</html>
`))

func Render(from, to string, a Alert) (Message, error) {
	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, a); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, a); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	return Message{From: from, To: to, Subject: Subject(a), Text: text.String(), HTML: html.String()}, nil
}

// Bytes encodes the message as a multipart/alternative MIME document.
func (m Message) Bytes() ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", m.Text},
		{"text/html; charset=utf-8", m.HTML},
	} {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", part.contentType)
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", m.From)
	fmt.Fprintf(&out, "To: %s\r\n", m.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

type Sender interface {
	Send(ctx context.Context, host string, port int, msg Message) error
}

// SMTPSender delivers over plain SMTP without authentication, the way an
// internal relay expects.
type SMTPSender struct {
	Timeout time.Duration
}

func (s SMTPSender) Send(ctx context.Context, host string, port int, msg Message) error {
	if host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if msg.To == "" {
		return fmt.Errorf("recipient not configured")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()
	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	return client.Quit()
}

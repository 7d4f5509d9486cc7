package mailer

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"soundmeter/internal/model"
	"soundmeter/internal/stats"
)

func testAlert() Alert {
	avg := 78.44
	return Alert{
		Kind:                 model.AlertAverage,
		CurrentDb:            81.26,
		AverageDb:            &avg,
		Timestamp:            time.Date(2026, 3, 2, 12, 15, 45, 0, time.UTC),
		SlotID:               2,
		SlotName:             "Period 2",
		InstantThresholdDb:   85,
		AverageThresholdDb:   75,
		AverageWindowMinutes: 5,
		Stats: &stats.PeriodStatistics{
			PeakDb:        89.2,
			PeakTimestamp: "12:08:30",
			AverageDb:     72.3,
			GreenPercent:  45,
			YellowPercent: 38,
			RedPercent:    17,
			RecentReadings: []stats.RecentReading{
				{Timestamp: "12:15:45", Decibels: 87.5, Zone: model.ZoneRed},
			},
		},
	}
}

func TestSubject(t *testing.T) {
	a := testAlert()
	if got := Subject(a); got != "Sound Alert: Average Threshold Exceeded (78.4 dB avg) - Period 2" {
		t.Fatalf("unexpected subject %q", got)
	}
	a.Kind = model.AlertInstant
	a.AverageDb = nil
	if got := Subject(a); got != "Sound Alert: Instant Threshold Exceeded (81.3 dB) - Period 2" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestRenderText(t *testing.T) {
	msg, err := Render("meter@example.org", "staff@example.org", testAlert())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"Alert Type: Average",
		"Time: 2026-03-02 12:15:45",
		"Current Reading: 81.3 dB",
		"Average over 5 minutes: 78.4 dB",
		"Peak: 89.2 dB at 12:08:30",
		"  12:15:45 - 87.5 dB (red)",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("text body missing %q:\n%s", want, msg.Text)
		}
	}
	if !strings.Contains(msg.HTML, `class="zone-red"`) || !strings.Contains(msg.HTML, "Average Threshold Exceeded") {
		t.Fatalf("unexpected html body:\n%s", msg.HTML)
	}
}

func TestRenderWithoutStats(t *testing.T) {
	a := testAlert()
	a.Stats = nil
	msg, err := Render("a@b", "c@d", a)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(msg.Text, "Period Statistics") {
		t.Fatalf("statistics section should be omitted")
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	a := testAlert()
	a.SlotName = "<b>Lunch</b>"
	msg, err := Render("a@b", "c@d", a)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(msg.HTML, "<b>Lunch</b>") {
		t.Fatalf("slot name not escaped")
	}
}

func TestMessageBytesIsMultipart(t *testing.T) {
	msg, err := Render("meter@example.org", "staff@example.org", testAlert())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	if parsed.Header.Get("To") != "staff@example.org" {
		t.Fatalf("unexpected To header %q", parsed.Header.Get("To"))
	}
	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("unexpected content type %q: %v", mediaType, err)
	}
	reader := multipart.NewReader(parsed.Body, params["boundary"])
	var types []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		types = append(types, part.Header.Get("Content-Type"))
	}
	if len(types) != 2 || !strings.HasPrefix(types[0], "text/plain") || !strings.HasPrefix(types[1], "text/html") {
		t.Fatalf("unexpected parts %v", types)
	}
}

func TestSendRequiresHost(t *testing.T) {
	if err := (SMTPSender{}).Send(context.Background(), "", 25, Message{To: "x@y"}); err == nil {
		t.Fatalf("expected error without host")
	}
}

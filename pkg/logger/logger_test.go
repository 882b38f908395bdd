package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestFieldsAppearInOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("test-component", logrus.InfoLevel)
	log.SetOutput(&buf)

	log.WithField("session_id", "s1").
		WithError(errors.New("boom")).
		Warn("something happened")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v (%s)", err, buf.String())
	}
	if line["component"] != "test-component" {
		t.Errorf("component = %v", line["component"])
	}
	if line["session_id"] != "s1" {
		t.Errorf("session_id = %v", line["session_id"])
	}
	if line["error"] != "boom" {
		t.Errorf("error = %v", line["error"])
	}
	if line["msg"] != "something happened" {
		t.Errorf("msg = %v", line["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("quiet", logrus.WarnLevel)
	log.SetOutput(&buf)

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	log.Warnf("kept %d", 1)
	if buf.Len() == 0 {
		t.Fatal("warn not logged")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"garbage": logrus.InfoLevel,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

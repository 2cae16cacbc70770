package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/basket/toolrelay/internal/doctor"
)

func TestDoctorCommand_JSON(t *testing.T) {
	setTestConfig(t, "127.0.0.1:0")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"doctor", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("doctor: %v", err)
	}
	var diag doctor.Diagnosis
	if err := json.Unmarshal(out.Bytes(), &diag); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if len(diag.Results) == 0 {
		t.Fatal("no results")
	}
}

func TestPrintDiagnosis(t *testing.T) {
	var out bytes.Buffer
	printDiagnosis(&out, doctor.Diagnosis{Results: []doctor.CheckResult{
		{Name: "Config", Status: "PASS", Message: "ok"},
		{Name: "Exposure", Status: "WARN", Message: "open", Detail: "set auth_token"},
	}})
	s := out.String()
	if !strings.Contains(s, "✅ Config") || !strings.Contains(s, "    set auth_token") {
		t.Fatalf("output:\n%s", s)
	}
}

package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndDevice(t *testing.T) {
	err := New(
		"scope-01",
		CodeEquipment,
		WithMessage("channel read failed"),
		WithCanonicalCode(CanonicalChannelUnknown),
		WithDeviceMetadata(map[string]string{
			"channel": "CH3",
			"vendor":  "keysight",
		}),
		WithDeviceField("request_id", "req-123"),
		WithRemediation("verify channel list against device capabilities"),
		WithCause(errors.New("scpi timeout")),
	)

	out := err.Error()
	if !strings.Contains(out, "equipment=scope-01") {
		t.Fatalf("expected equipment marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=equipment_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=channel_unknown") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	expectedDevice := "device=channel=\"CH3\",request_id=\"req-123\",vendor=\"keysight\""
	if !strings.Contains(out, expectedDevice) {
		t.Fatalf("expected device metadata %q in error string: %s", expectedDevice, out)
	}
	if !strings.Contains(out, "remediation=\"verify channel list against device capabilities\"") {
		t.Fatalf("expected remediation guidance in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"scpi timeout\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("scope-01", CodeInvalid, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New("psu-02", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match the wrapped cause")
	}
}

func TestHasCode(t *testing.T) {
	err := New("dmm-07", CodeNotFound, WithMessage("acquisition not found"))
	if !HasCode(err, CodeNotFound) {
		t.Fatalf("expected HasCode to match not_found")
	}
	if HasCode(err, CodeInvalid) {
		t.Fatalf("did not expect HasCode to match invalid_request")
	}
	if HasCode(errors.New("plain"), CodeNotFound) {
		t.Fatalf("plain errors must not match any code")
	}
}

func TestNotSupportedCarriesCapabilityMissing(t *testing.T) {
	err := NotSupported("no getter for channel TEMP")
	if err.Code != CodeEquipment {
		t.Fatalf("expected equipment_error code, got %q", err.Code)
	}
	if err.Canonical != CanonicalCapabilityMissing {
		t.Fatalf("expected capability_missing canonical code, got %q", err.Canonical)
	}
}

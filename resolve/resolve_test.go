package resolve

import (
	"context"
	"strings"
	"testing"

	"github.com/coinhaven/depositd/core"
)

type stubDirectory struct {
	byAddress map[string][]core.DepositAddress
	byTag     map[string][]core.DepositAddress
}

func (s *stubDirectory) ActiveByAddress(_ context.Context, address string) ([]core.DepositAddress, error) {
	return s.byAddress[address], nil
}

func (s *stubDirectory) ActiveByAddressAndTag(_ context.Context, address string, tag string) ([]core.DepositAddress, error) {
	return s.byTag[address+"|"+tag], nil
}

func tagPtr(tag string) *string { return &tag }

func TestResolveSingleAddressMatch(t *testing.T) {
	directory := &stubDirectory{
		byAddress: map[string][]core.DepositAddress{
			"0xabc": {{UserID: "user-1", Address: "0xabc", Chain: "ethereum", Network: "mainnet", Asset: "ETH", Active: true}},
		},
	}
	resolver, err := New(directory, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	resolved, err := resolver.Resolve(context.Background(), core.NormalizedEvent{Address: "0xabc"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", resolved.UserID)
	}
	if resolved.Chain != "ethereum" || resolved.Asset != "ETH" {
		t.Fatalf("unexpected resolved address: %+v", resolved)
	}
}

func TestResolveAmbiguousAddressFailsClosed(t *testing.T) {
	directory := &stubDirectory{
		byAddress: map[string][]core.DepositAddress{
			"shared": {
				{UserID: "user-1", Address: "shared", Active: true},
				{UserID: "user-2", Address: "shared", Active: true},
			},
		},
	}
	resolver, _ := New(directory, nil)

	_, err := resolver.Resolve(context.Background(), core.NormalizedEvent{Address: "shared"})
	if err == nil {
		t.Fatal("expected ambiguous resolution to fail closed")
	}
	if !strings.Contains(err.Error(), "multiple users") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveExactTagOutranksAddressMatch(t *testing.T) {
	directory := &stubDirectory{
		byAddress: map[string][]core.DepositAddress{
			"rShared": {
				{UserID: "user-1", Address: "rShared", DestinationTag: tagPtr("100"), Active: true},
				{UserID: "user-2", Address: "rShared", DestinationTag: tagPtr("200"), Active: true},
			},
		},
		byTag: map[string][]core.DepositAddress{
			"rShared|200": {{UserID: "user-2", Address: "rShared", Chain: "xrp", DestinationTag: tagPtr("200"), Active: true}},
		},
	}
	resolver, _ := New(directory, nil)

	resolved, err := resolver.Resolve(context.Background(), core.NormalizedEvent{
		Address: "rShared",
		Chain:   "xrp",
		Memo:    "200",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UserID != "user-2" {
		t.Fatalf("expected tagged owner user-2, got %q", resolved.UserID)
	}
	if resolved.DestinationTag != "200" {
		t.Fatalf("expected destination tag 200, got %q", resolved.DestinationTag)
	}
}

func TestResolveFallsBackToUntaggedAddress(t *testing.T) {
	directory := &stubDirectory{
		byAddress: map[string][]core.DepositAddress{
			"rLegacy": {{UserID: "user-1", Address: "rLegacy", Chain: "xrp", Active: true}},
		},
		byTag: map[string][]core.DepositAddress{},
	}
	resolver, _ := New(directory, nil)

	resolved, err := resolver.Resolve(context.Background(), core.NormalizedEvent{
		Address: "rLegacy",
		Chain:   "xrp",
		Memo:    "4242",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UserID != "user-1" {
		t.Fatalf("expected untagged fallback owner, got %q", resolved.UserID)
	}
}

func TestResolveRejectsInvalidMemo(t *testing.T) {
	directory := &stubDirectory{
		byAddress: map[string][]core.DepositAddress{
			"rShared": {{UserID: "user-1", Address: "rShared", Active: true}},
		},
	}
	resolver, _ := New(directory, nil)

	_, err := resolver.Resolve(context.Background(), core.NormalizedEvent{
		Address: "rShared",
		Chain:   "xrp",
		Memo:    "not-numeric",
	})
	if err == nil {
		t.Fatal("expected invalid memo to fail resolution")
	}
}

func TestValidateMemoXRPTagRange(t *testing.T) {
	cases := []struct {
		memo  string
		valid bool
	}{
		{"0", true},
		{"4294967295", true},
		{"4294967296", false},
		{"-1", false},
		{"12ab", false},
	}
	for _, tc := range cases {
		result := ValidateMemo("xrp", tc.memo)
		if result.IsValid != tc.valid {
			t.Fatalf("memo %q: expected valid=%v, got %+v", tc.memo, tc.valid, result)
		}
	}
}

func TestValidateMemoGeneric(t *testing.T) {
	if result := ValidateMemo("ethereum", "abc123XYZ"); !result.IsValid {
		t.Fatalf("expected alphanumeric memo to validate: %+v", result)
	}
	if result := ValidateMemo("ethereum", strings.Repeat("a", 33)); result.IsValid {
		t.Fatal("expected memo over 32 characters to be rejected")
	}
	if result := ValidateMemo("ethereum", "abc def"); result.IsValid {
		t.Fatal("expected memo with spaces to be rejected")
	}
}

func TestValidateMemoRejectsInjection(t *testing.T) {
	cases := []string{
		"'; DROP TABLE users--",
		"1 UNION SELECT *",
		"<script>alert(1)</script>",
	}
	for _, memo := range cases {
		result := ValidateMemo("ethereum", memo)
		if result.IsValid {
			t.Fatalf("expected memo %q to be rejected", memo)
		}
	}
}

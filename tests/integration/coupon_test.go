//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestCoupon_CRUD(t *testing.T) {
	created := createCoupon(t, "PERCENTAGE", "15",
		restrictionJSON{
			RestrictionType:  "CHANNEL",
			RestrictionValue: map[string]any{"channelIds": []string{"WEB", "APP"}},
		},
		restrictionJSON{
			RestrictionType:  "MINIMUM_PURCHASE",
			RestrictionValue: map[string]any{"minimumAmount": "50"},
		},
	)
	if created.ID == "" {
		t.Fatal("created coupon has no id")
	}
	if !created.IsActive {
		t.Error("coupon should default to active")
	}
	if len(created.Restrictions) != 2 {
		t.Fatalf("expected 2 restrictions, got %d", len(created.Restrictions))
	}

	// Get.
	resp := doAdmin(t, http.MethodGet, "/api/coupons/"+created.ID, nil)
	got := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()
	if got.Code != created.Code {
		t.Errorf("code: got %q, want %q", got.Code, created.Code)
	}
	if got.DiscountDetails.DiscountValue != "15" {
		t.Errorf("discountValue: got %q, want %q", got.DiscountDetails.DiscountValue, "15")
	}

	// Update replaces the restriction set.
	resp = doAdmin(t, http.MethodPut, "/api/coupons/"+created.ID, map[string]any{
		"description": "updated",
		"restrictions": []restrictionJSON{{
			RestrictionType:  "CHANNEL",
			RestrictionValue: map[string]any{"channelIds": []string{"POS"}},
		}},
	})
	expectStatus(t, resp, http.StatusOK)
	updated := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()
	if updated.Description != "updated" {
		t.Errorf("description: got %q, want %q", updated.Description, "updated")
	}
	if len(updated.Restrictions) != 1 {
		t.Fatalf("expected 1 restriction after update, got %d", len(updated.Restrictions))
	}
	if ids, _ := updated.Restrictions[0].RestrictionValue["channelIds"].([]any); len(ids) != 1 {
		t.Errorf("channelIds: got %v", ids)
	}

	// List contains it.
	resp = doAdmin(t, http.MethodGet, "/api/coupons", nil)
	list := decodeJSON[[]couponResponse](t, resp)
	resp.Body.Close()
	found := false
	for _, c := range list {
		if c.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Error("created coupon missing from list")
	}

	// Delete.
	resp = doAdmin(t, http.MethodDelete, "/api/coupons/"+created.ID, nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)

	resp = doAdmin(t, http.MethodGet, "/api/coupons/"+created.ID, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestCoupon_DuplicateCode(t *testing.T) {
	created := createCoupon(t, "FIXED_AMOUNT", "5")

	resp := doAdmin(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":            created.Code,
		"startDate":       "2025-01-01",
		"endDate":         "2030-01-01",
		"discountDetails": map[string]any{"discountType": "FIXED_AMOUNT", "discountValue": 5},
	})
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusConflict)
}

func TestCoupon_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing code", map[string]any{
			"startDate":       "2025-01-01",
			"endDate":         "2030-01-01",
			"discountDetails": map[string]any{"discountType": "PERCENTAGE", "discountValue": 10},
		}},
		{"unknown restriction", map[string]any{
			"code":            uniqueCode(),
			"startDate":       "2025-01-01",
			"endDate":         "2030-01-01",
			"discountDetails": map[string]any{"discountType": "PERCENTAGE", "discountValue": 10},
			"restrictions":    []map[string]any{{"restrictionType": "LOYALTY", "restrictionValue": map[string]any{}}},
		}},
		{"end before start", map[string]any{
			"code":            uniqueCode(),
			"startDate":       "2030-01-01",
			"endDate":         "2025-01-01",
			"discountDetails": map[string]any{"discountType": "PERCENTAGE", "discountValue": 10},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doAdmin(t, http.MethodPost, "/api/coupons", tt.body)
			defer resp.Body.Close()

			expectStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestCoupon_Eligible(t *testing.T) {
	web := createCoupon(t, "PERCENTAGE", "10", restrictionJSON{
		RestrictionType:  "CHANNEL",
		RestrictionValue: map[string]any{"channelIds": []string{"WEB"}},
	})
	pos := createCoupon(t, "PERCENTAGE", "10", restrictionJSON{
		RestrictionType:  "CHANNEL",
		RestrictionValue: map[string]any{"channelIds": []string{"POS"}},
	})

	resp := doPost(t, "/api/coupons/eligible", map[string]any{"userId": "u1", "channel": "WEB"})
	expectStatus(t, resp, http.StatusOK)
	list := decodeJSON[[]couponResponse](t, resp)
	resp.Body.Close()

	codes := make(map[string]bool)
	for _, c := range list {
		codes[c.Code] = true
	}
	if !codes[web.Code] {
		t.Errorf("expected %s to be eligible", web.Code)
	}
	if codes[pos.Code] {
		t.Errorf("expected %s to be filtered out", pos.Code)
	}
}

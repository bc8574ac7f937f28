//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
)

func TestRedemption_BlockClaim(t *testing.T) {
	c := createCoupon(t, "PERCENTAGE", "10", restrictionJSON{
		RestrictionType:  "MINIMUM_PURCHASE",
		RestrictionValue: map[string]any{"minimumAmount": 50},
	})

	block := map[string]any{
		"code":           c.Code,
		"userId":         "user-1",
		"orderId":        "order-1",
		"purchaseAmount": "200.00",
	}

	resp := doPost(t, "/api/redemptions/block", block)
	expectStatus(t, resp, http.StatusCreated)
	blocked := decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()

	if blocked.Status != "BLOCKED" {
		t.Errorf("status: got %q, want BLOCKED", blocked.Status)
	}
	if blocked.DiscountAmount != "20" {
		t.Errorf("discountAmount: got %q, want %q", blocked.DiscountAmount, "20")
	}

	// A second block for the same order conflicts.
	resp = doPost(t, "/api/redemptions/block", block)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)

	resp = doPost(t, "/api/redemptions/claim", map[string]any{"userId": "user-1", "orderId": "order-1"})
	expectStatus(t, resp, http.StatusOK)
	claimed := decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()

	if claimed.ID != blocked.ID {
		t.Errorf("claim returned %s, want %s", claimed.ID, blocked.ID)
	}
	if claimed.Status != "COMPLETED" {
		t.Errorf("status: got %q, want COMPLETED", claimed.Status)
	}
	if len(claimed.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(claimed.History))
	}

	// Claiming again finds no BLOCKED redemption.
	resp = doPost(t, "/api/redemptions/claim", map[string]any{"userId": "user-1", "orderId": "order-1"})
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)

	resp = doGet(t, "/api/redemptions/"+blocked.ID)
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()
	if got.Status != "COMPLETED" {
		t.Errorf("stored status: got %q, want COMPLETED", got.Status)
	}
}

func TestRedemption_DiscountStoredAsReturned(t *testing.T) {
	c := createCoupon(t, "PERCENTAGE", "33.33")

	resp := doPost(t, "/api/redemptions/block", map[string]any{
		"code":           c.Code,
		"userId":         "user-frac",
		"orderId":        "order-frac",
		"purchaseAmount": "10.05",
	})
	expectStatus(t, resp, http.StatusCreated)
	blocked := decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()

	if blocked.DiscountAmount != "3.35" {
		t.Errorf("discountAmount: got %q, want %q", blocked.DiscountAmount, "3.35")
	}

	resp = doGet(t, "/api/redemptions/"+blocked.ID)
	expectStatus(t, resp, http.StatusOK)
	stored := decodeJSON[redemptionResponse](t, resp)
	resp.Body.Close()

	if stored.DiscountAmount != blocked.DiscountAmount || stored.PurchaseAmount != blocked.PurchaseAmount {
		t.Errorf("stored %s/%s differs from returned %s/%s",
			stored.PurchaseAmount, stored.DiscountAmount, blocked.PurchaseAmount, blocked.DiscountAmount)
	}
}

func TestRedemption_Rejections(t *testing.T) {
	minimum := createCoupon(t, "FIXED_AMOUNT", "5", restrictionJSON{
		RestrictionType:  "MINIMUM_PURCHASE",
		RestrictionValue: map[string]any{"minimumAmount": "50"},
	})
	channel := createCoupon(t, "FIXED_AMOUNT", "5", restrictionJSON{
		RestrictionType:  "CHANNEL",
		RestrictionValue: map[string]any{"channelIds": []string{"WEB"}},
	})

	tests := []struct {
		name        string
		body        map[string]any
		status      int
		restriction string
		field       string
	}{
		{
			name:   "unknown code",
			body:   map[string]any{"code": "NOPE-" + uniqueCode(), "userId": "u", "orderId": "o1", "purchaseAmount": 10},
			status: http.StatusNotFound,
		},
		{
			name:        "below minimum",
			body:        map[string]any{"code": minimum.Code, "userId": "u", "orderId": "o2", "purchaseAmount": 49.99},
			status:      http.StatusUnprocessableEntity,
			restriction: "MINIMUM_PURCHASE",
		},
		{
			name:        "missing channel",
			body:        map[string]any{"code": channel.Code, "userId": "u", "orderId": "o3", "purchaseAmount": 10},
			status:      http.StatusUnprocessableEntity,
			restriction: "CHANNEL",
			field:       "channel",
		},
		{
			name:        "wrong channel",
			body:        map[string]any{"code": channel.Code, "userId": "u", "orderId": "o4", "purchaseAmount": 10, "channel": "POS"},
			status:      http.StatusUnprocessableEntity,
			restriction: "CHANNEL",
		},
		{
			name:   "missing order",
			body:   map[string]any{"code": channel.Code, "userId": "u", "purchaseAmount": 10},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPost(t, "/api/redemptions/block", tt.body)
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			e := decodeJSON[errorResponse](t, resp)
			if e.Restriction != tt.restriction {
				t.Errorf("restriction: got %q, want %q", e.Restriction, tt.restriction)
			}
			if e.Field != tt.field {
				t.Errorf("field: got %q, want %q", e.Field, tt.field)
			}
		})
	}
}

func TestRedemption_MaxUsesUnderConcurrency(t *testing.T) {
	c := createCoupon(t, "FIXED_AMOUNT", "1", restrictionJSON{
		RestrictionType:  "MAX_USES",
		RestrictionValue: map[string]any{"maxUses": 3},
	})

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = make(map[int]int)
	)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf(`{"code":%q,"userId":"racer","orderId":"race-%d","purchaseAmount":10}`, c.Code, i)
			resp, err := httpClient.Post(baseURL+"/api/redemptions/block", "application/json", strings.NewReader(body))
			if err != nil {
				t.Errorf("block %d: %v", i, err)
				return
			}
			resp.Body.Close()

			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[http.StatusCreated] != 3 {
		t.Errorf("expected exactly 3 blocks to succeed, got %v", statuses)
	}
	if statuses[http.StatusUnprocessableEntity] != attempts-3 {
		t.Errorf("expected %d rejections, got %v", attempts-3, statuses)
	}
}

// Package testutil provides shared fixtures and assertions for OutreachPipe tests.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Clock is a settable time source for engine and registry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock reading t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SampleSnapshot returns a snapshot touching every table: two users, one with
// optional timestamps set, and an empty as well as a populated sent-set.
func SampleSnapshot() models.Snapshot {
	return models.Snapshot{
		Version: models.SnapshotVersion,
		TakenAt: "2025-06-01T10:00:00Z",
		Activity: []models.SnapshotActivity{
			{UserID: "u1", LastActiveAt: "2025-06-01T08:15:30.987654321Z", ConversationRef: "whatsapp:15551234", OriginRef: "15551234"},
			{UserID: "u2", LastActiveAt: "2025-06-01T09:00:00Z", ConversationRef: "whatsapp:15559876", OriginRef: "15559876"},
		},
		Engagement: []models.SnapshotEngagement{
			{UserID: "u1", ConsecutiveCount: 2, LastProactiveAt: "2025-06-01T09:30:00Z", AwaitingReply: true, LastSharedAt: "2025-06-01T07:00:00Z"},
			{UserID: "u2"},
		},
		DailySent: []models.SnapshotDailySent{
			{Family: models.FamilyLunch, Day: "2025-06-01", UserIDs: []string{}},
			{Family: models.FamilyMorning, Day: "2025-06-01", UserIDs: []string{"u1", "u2"}},
		},
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodedResponse is an APIResponse whose result is left undecoded.
type DecodedResponse struct {
	Status  models.APIStatus `json:"status"`
	Message string           `json:"message"`
	Result  json.RawMessage  `json:"result"`
}

// AssertJSONResponse decodes the recorded APIResponse and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) DecodedResponse {
	t.Helper()
	var response DecodedResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, response.Status)
	}
	return response
}

// MustUnmarshalJSON unmarshals data into target or fails the test.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON %q: %v", data, err)
	}
}
